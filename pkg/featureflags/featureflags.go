package featureflags

import (
	"context"

	"stockplane/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

// Flag names understood by the pipeline.
const (
	ImportsPaused = "imports_paused"
)

type FeatureFlag interface {
	// IsEnabled reports whether a flag is on. Without a configured client it
	// reports false so flags never block anything by accident.
	IsEnabled(ctx context.Context, feature string) bool
	Features(ctx context.Context, identifier string) ([]flagsmith.Flag, error)
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithBaseURL(p.Config.Flagsmith.Addr),
		flagsmith.WithAnalytics(),
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) IsEnabled(ctx context.Context, feature string) bool {
	if s.client == nil {
		return false
	}

	flags, err := s.client.GetEnvironmentFlags()
	if err != nil {
		return false
	}

	enabled, err := flags.IsFeatureEnabled(feature)
	if err != nil {
		return false
	}

	return enabled
}

func (s *featureflag) Features(ctx context.Context, identifier string) ([]flagsmith.Flag, error) {
	if s.client == nil {
		return nil, nil
	}

	flags, err := s.client.GetEnvironmentFlags()
	if err != nil {
		return nil, err
	}

	return flags.AllFlags(), nil
}
