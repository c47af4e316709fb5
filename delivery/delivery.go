// Package delivery implements stage.Adapter data-hook backends that
// terminate the pipeline: a working local-file backend and thin stubs for
// protocol backends out of this reference build's scope.
package delivery

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"feathermail/logging"
	"feathermail/pipeline"
	"feathermail/stage"
	"feathermail/storage"
	"feathermail/transform"
)

// decodeLocalFileOpts decodes a pipeline entry's raw opts map into a typed
// options struct, mirroring the stages package's own mapstructure-based
// decoding idiom.
func decodeLocalFileOpts(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(opts)
}

func init() {
	pipeline.Default.Register("local_file", newLocalFile)
	pipeline.Default.Register("lmtp", newLMTP)
	pipeline.Default.Register("smtp_forward", newSMTPForward)
}

// LocalFile delivers each recipient's copy of the message to a Mailbox
// rooted at a configured directory, running the configured transformer
// chain over (raw, meta) first.
type LocalFile struct {
	mailbox      *storage.Mailbox
	transformers []transform.Transformer
}

type localFileOpts struct {
	Directory    string `mapstructure:"directory"`
	Transformers []any  `mapstructure:"transformers"`
}

func newLocalFile(opts map[string]any) (stage.Adapter, error) {
	var o localFileOpts
	if err := decodeLocalFileOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("delivery: local_file: %w", err)
	}
	if o.Directory == "" {
		return nil, fmt.Errorf("delivery: local_file: directory is required")
	}

	mb, err := storage.NewMailbox(o.Directory)
	if err != nil {
		return nil, fmt.Errorf("delivery: local_file: %w", err)
	}

	transformers, err := buildTransformers(o.Transformers)
	if err != nil {
		return nil, fmt.Errorf("delivery: local_file: %w", err)
	}

	return &LocalFile{mailbox: mb, transformers: transformers}, nil
}

func (a *LocalFile) Init(stage.SessionContext) (any, error) { return nil, nil }

func (a *LocalFile) Data(raw []byte, meta stage.Meta, state any) stage.Result {
	rewritten, rewrittenMeta, err := transform.Run(a.transformers, raw, meta)
	if err != nil {
		return stage.Halt(deliveryReason{
			line: fmt.Sprintf("450 4.3.0 Message transform failed: %v", err),
		}, state)
	}

	for _, to := range rewrittenMeta.To() {
		if _, err := a.mailbox.Deliver(to, rewritten); err != nil {
			return stage.Halt(deliveryReason{
				line: fmt.Sprintf("450 4.3.0 Local delivery failed for %s: %v", to, err),
			}, state)
		}
	}
	return stage.Continue(rewrittenMeta, state)
}

func (a *LocalFile) FormatReason(r stage.Reason) (string, bool) {
	if dr, ok := r.(deliveryReason); ok {
		return dr.line, true
	}
	return "", false
}

type deliveryReason struct{ line string }

func (deliveryReason) Phase() string { return "data" }

// notImplementedBackend is the shared shape of LMTP and SMTPForward: a
// protocol backend with no real implementation in this reference build,
// that halts every delivery attempt with a transient-infrastructure
// reason rather than silently dropping mail.
type notImplementedBackend struct {
	name   string
	logger logging.Logger
}

func (b notImplementedBackend) Init(stage.SessionContext) (any, error) { return nil, nil }

func (b notImplementedBackend) Data(raw []byte, meta stage.Meta, state any) stage.Result {
	if b.logger != nil {
		b.logger.Warn(b.name+" delivery attempted",
			logging.F("recipients", meta.To()),
			logging.F("note", "not implemented in this reference build"))
	}
	return stage.Halt(deliveryReason{
		line: fmt.Sprintf("451 4.3.0 %s delivery is not implemented in this reference build", b.name),
	}, state)
}

func (b notImplementedBackend) FormatReason(r stage.Reason) (string, bool) {
	if dr, ok := r.(deliveryReason); ok {
		return dr.line, true
	}
	return "", false
}

// LMTP is a stub: it accepts an address option but has no LMTP client;
// every delivery halts with a 451 reply.
type LMTP = notImplementedBackend

type lmtpOpts struct {
	Address string `mapstructure:"address"`
}

func newLMTP(opts map[string]any) (stage.Adapter, error) {
	var o lmtpOpts
	if err := decodeLocalFileOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("delivery: lmtp: %w", err)
	}
	cfg := logging.DefaultConfig()
	logger, err := logging.NewLogger(&cfg)
	if err != nil {
		return nil, fmt.Errorf("delivery: lmtp: %w", err)
	}
	return notImplementedBackend{name: "LMTP", logger: logger}, nil
}

// SMTPForward is a stub: it accepts an address option but does not relay
// to it; every delivery halts with a 451 reply.
type SMTPForward = notImplementedBackend

type smtpForwardOpts struct {
	Address string `mapstructure:"address"`
}

func newSMTPForward(opts map[string]any) (stage.Adapter, error) {
	var o smtpForwardOpts
	if err := decodeLocalFileOpts(opts, &o); err != nil {
		return nil, fmt.Errorf("delivery: smtp_forward: %w", err)
	}
	cfg := logging.DefaultConfig()
	logger, err := logging.NewLogger(&cfg)
	if err != nil {
		return nil, fmt.Errorf("delivery: smtp_forward: %w", err)
	}
	return notImplementedBackend{name: "SMTPForward", logger: logger}, nil
}
