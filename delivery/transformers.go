package delivery

import (
	"fmt"
	"time"

	"feathermail/transform"
)

// transformerSpec is one entry of a LocalFile's "transformers" option: a
// transform kind name plus its typed opts, decoded the same way a
// pipeline entry's {kind, opts} pair is.
type transformerSpec struct {
	Kind string         `mapstructure:"kind"`
	Opts map[string]any `mapstructure:"opts"`
}

// buildTransformers turns the raw "transformers" option value (a list of
// {kind, opts} maps) into the ordered []transform.Transformer chain a
// delivery stage's data hook runs via transform.Run. Unlike the
// stage.Adapter kind registry (closed, package-level, used for the
// pipeline's top-level stage list), the transformer sub-pipeline embedded
// inside a delivery stage is local to that stage and has no hot-reload or
// cross-package registration requirement, so a small switch suffices.
func buildTransformers(raw []any) ([]transform.Transformer, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	out := make([]transform.Transformer, 0, len(raw))
	for i, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("delivery: transformers[%d]: expected a map, got %T", i, entry)
		}
		var spec transformerSpec
		if err := decodeLocalFileOpts(m, &spec); err != nil {
			return nil, fmt.Errorf("delivery: transformers[%d]: %w", i, err)
		}

		t, err := buildTransformer(spec.Kind, spec.Opts)
		if err != nil {
			return nil, fmt.Errorf("delivery: transformers[%d] (%s): %w", i, spec.Kind, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func buildTransformer(kind string, opts map[string]any) (transform.Transformer, error) {
	switch kind {
	case "alias_resolver":
		var o struct {
			Aliases  map[string][]string `mapstructure:"aliases"`
			MaxDepth int                  `mapstructure:"max_depth"`
		}
		if err := decodeLocalFileOpts(opts, &o); err != nil {
			return nil, err
		}
		return transform.NewAliasResolver(o.Aliases, o.MaxDepth), nil

	case "file_based_alias_resolver":
		var o struct {
			Path           string `mapstructure:"path"`
			ReloadInterval int    `mapstructure:"reload_interval_seconds"`
			MaxDepth       int    `mapstructure:"max_depth"`
		}
		if err := decodeLocalFileOpts(opts, &o); err != nil {
			return nil, err
		}
		return transform.NewFileBasedAliasResolver(o.Path, time.Duration(o.ReloadInterval)*time.Second, o.MaxDepth), nil

	case "srs_rewriter":
		var o struct {
			Secret    string `mapstructure:"secret"`
			SRSDomain string `mapstructure:"srs_domain"`
		}
		if err := decodeLocalFileOpts(opts, &o); err != nil {
			return nil, err
		}
		return transform.NewSRSRewriter(o.Secret, o.SRSDomain), nil

	case "alias_resolver_with_srs":
		var o struct {
			Aliases      map[string][]string `mapstructure:"aliases"`
			MaxDepth     int                  `mapstructure:"max_depth"`
			Secret       string               `mapstructure:"secret"`
			SRSDomain    string               `mapstructure:"srs_domain"`
			LocalDomains []string             `mapstructure:"local_domains"`
		}
		if err := decodeLocalFileOpts(opts, &o); err != nil {
			return nil, err
		}
		return transform.NewAliasResolverWithSRS(o.Aliases, o.MaxDepth, o.Secret, o.SRSDomain, o.LocalDomains), nil

	case "srs_bounce_handler":
		var o struct {
			Secret     string `mapstructure:"secret"`
			MaxAgeDays int    `mapstructure:"max_age_days"`
		}
		if err := decodeLocalFileOpts(opts, &o); err != nil {
			return nil, err
		}
		return transform.NewSRSBounceHandler(o.Secret, o.MaxAgeDays), nil

	case "match_sender":
		var o struct {
			Rules map[string]string `mapstructure:"rules"`
			Order []string          `mapstructure:"order"`
		}
		if err := decodeLocalFileOpts(opts, &o); err != nil {
			return nil, err
		}
		return transform.NewMatchSender(o.Rules, o.Order)

	case "match_rcpt_to":
		var o struct {
			Rules map[string]string `mapstructure:"rules"`
			Order []string          `mapstructure:"order"`
		}
		if err := decodeLocalFileOpts(opts, &o); err != nil {
			return nil, err
		}
		return transform.NewMatchRcptTo(o.Rules, o.Order)

	case "match_header":
		var o struct {
			Header string            `mapstructure:"header"`
			Rules  map[string]string `mapstructure:"rules"`
			Order  []string          `mapstructure:"order"`
		}
		if err := decodeLocalFileOpts(opts, &o); err != nil {
			return nil, err
		}
		return transform.NewMatchHeader(o.Header, o.Rules, o.Order)

	case "match_body":
		var o struct {
			Rules map[string]string `mapstructure:"rules"`
			Order []string          `mapstructure:"order"`
		}
		if err := decodeLocalFileOpts(opts, &o); err != nil {
			return nil, err
		}
		return transform.NewMatchBody(o.Rules, o.Order)

	case "default_mailbox":
		var o struct {
			Mailbox string `mapstructure:"mailbox"`
		}
		if err := decodeLocalFileOpts(opts, &o); err != nil {
			return nil, err
		}
		return transform.NewDefaultMailbox(o.Mailbox), nil

	case "dkim_signer":
		var o struct {
			Selector      string   `mapstructure:"selector"`
			Domain        string   `mapstructure:"domain"`
			PrivateKeyPEM string   `mapstructure:"private_key_pem"`
			SignedHeaders []string `mapstructure:"signed_headers"`
		}
		if err := decodeLocalFileOpts(opts, &o); err != nil {
			return nil, err
		}
		return transform.NewDKIMSigner(o.Selector, o.Domain, []byte(o.PrivateKeyPEM), o.SignedHeaders)

	default:
		return nil, fmt.Errorf("unknown transformer kind %q", kind)
	}
}
