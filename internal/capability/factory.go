package capability

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Mode           string
	SpecializedURL string
	GeneralURL     string
	Timeout        time.Duration
}

// Pair holds the two backends the failover chooses between.
type Pair struct {
	Specialized Capability
	General     Capability
}

func NewPair(cfg Config) (Pair, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.SpecializedURL) != "" && strings.TrimSpace(cfg.GeneralURL) != "" {
			return newHTTPPair(cfg), nil
		}
		return newMockPair(), nil
	case "http":
		if strings.TrimSpace(cfg.SpecializedURL) == "" || strings.TrimSpace(cfg.GeneralURL) == "" {
			return Pair{}, errors.New("capability urls are required for http mode")
		}
		return newHTTPPair(cfg), nil
	case "mock":
		return newMockPair(), nil
	default:
		return Pair{}, fmt.Errorf("unsupported capability mode %q", cfg.Mode)
	}
}

func newHTTPPair(cfg Config) Pair {
	return Pair{
		Specialized: NewHTTPCapability(NameSpecialized, cfg.SpecializedURL, cfg.Timeout),
		General:     NewHTTPCapability(NameGeneral, cfg.GeneralURL, cfg.Timeout),
	}
}

func newMockPair() Pair {
	return Pair{
		Specialized: NewMockCapability(NameSpecialized, 0.95),
		General:     NewMockCapability(NameGeneral, 0.8),
	}
}
