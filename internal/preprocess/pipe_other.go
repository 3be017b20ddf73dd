//go:build !unix

package preprocess

import "github.com/leapstack-labs/leapbatch/pkg/core"

func (inv *Invoker) pipe(_ Config) (*Stream, error) {
	return nil, core.ConfigErrorf("pipe transport is not available on this platform: set temp_file")
}
