package stages

import (
	"github.com/mitchellh/mapstructure"
)

// decodeOpts decodes a pipeline entry's raw {kind, opts} map into a typed
// options struct using mapstructure tags, the same decoding idiom koanf
// uses internally for its own struct binding.
func decodeOpts(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(opts)
}
