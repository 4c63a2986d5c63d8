package memory

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/querydesk/internal/awsx"
	"github.com/nextlevelbuilder/querydesk/internal/config"
)

// NewBackend builds the backend selected by memory.backend.
// "none" returns a nil Backend.
func NewBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.Memory.Backend {
	case "", "none":
		return nil, nil
	case "sqlite":
		path, err := cfg.ResolvedSQLitePath()
		if err != nil {
			return nil, err
		}
		b, err := NewSQLiteBackend(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "agentcore":
		awsCfg, err := awsx.Load(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		return NewAgentCoreBackend(awsCfg, cfg.Memory.MemoryID), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Memory.Backend)
	}
}
