package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/hlsrelay/pkg/httpclient"
)

// Config bundles the per-variant tuning knobs a Transcoder's pre-scan needs
// before it knows which Descriptor variant it is opening.
type Config struct {
	Progressive ProgressiveTempFileConfig
	RangeCache  RangeCacheConfig
}

// DefaultConfig returns each variant's recommended defaults.
func DefaultConfig() Config {
	return Config{
		Progressive: DefaultProgressiveTempFileConfig(),
		RangeCache:  DefaultRangeCacheConfig(),
	}
}

// Open dispatches d to the Reader variant it names, the single entry point
// a SessionManager uses instead of constructing a variant directly. presence
// is only consulted for the local-block variant and may be nil otherwise.
func Open(ctx context.Context, client *httpclient.Client, logger *slog.Logger, presence BlockPresence, d Descriptor, cfg Config) (Reader, error) {
	switch d.Type {
	case DescriptorProgressiveHTTP, "":
		progCfg := cfg.Progressive
		return NewProgressiveTempFile(ctx, client, logger, d.URL, progCfg, d.WaitForComplete)

	case DescriptorRangeHTTP:
		rc, err := NewRangeCache(ctx, client, logger, d.URL, cfg.RangeCache)
		if err != nil {
			return nil, err
		}
		return rc, nil

	case DescriptorLocalBlock:
		if presence == nil {
			return nil, fmt.Errorf("%w: local-block descriptor requires a BlockPresence", ErrSourceNotSynced)
		}
		return NewLocalBlockStore(presence, d)

	default:
		return nil, fmt.Errorf("%w: unknown source descriptor type %q", ErrSourceUnavailable, d.Type)
	}
}
