package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"

	cipclient "github.com/georgelake2/plcaudit/internal/cip/client"
	"github.com/georgelake2/plcaudit/internal/cip/protocol"
	"github.com/georgelake2/plcaudit/internal/config"
	plcerrors "github.com/georgelake2/plcaudit/internal/errors"
	"github.com/georgelake2/plcaudit/internal/logging"
	"github.com/georgelake2/plcaudit/internal/plctime"
)

// Read kinds accepted by RunRead.
const (
	ReadScalar = "scalar"
	ReadDint   = "dint"
	ReadLint   = "lint"
	ReadReal   = "real"
	ReadDint7  = "dint7"
)

// ToolOptions configure the one-shot tag commands.
type ToolOptions struct {
	ConfigPath string
	IP         string
	Port       int
	LogLevel   string

	Tag   string
	Type  string
	Value string
	Copy  bool

	Stdout io.Writer
}

// toolSession loads configuration, applies the address overrides and
// opens a session. The caller closes the session and the logger.
func toolSession(ctx context.Context, opts *ToolOptions) (*cipclient.Session, *logging.Logger, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Tag == "" {
		return nil, nil, fmt.Errorf("a tag name is required")
	}
	if _, err := protocol.EncodeSymbolPath(opts.Tag); err != nil {
		return nil, nil, fmt.Errorf("tag %q: %w", opts.Tag, err)
	}
	cfg, err := loadConfig(opts.ConfigPath, false)
	if err != nil {
		return nil, nil, err
	}
	if opts.IP != "" {
		cfg.Controller.IP = opts.IP
	}
	if opts.Port != 0 {
		cfg.Controller.Port = opts.Port
	}
	level := opts.LogLevel
	if level == "" {
		level = "warn"
	}
	logger, err := newLogger(config.LoggingConfig{Level: level}, "", false)
	if err != nil {
		return nil, nil, err
	}
	sess, err := connectOnce(ctx, cfg, logger)
	if err != nil {
		logger.Close()
		return nil, nil, plcerrors.WrapNetworkError(err, cfg.Controller.IP, cfg.Controller.Port)
	}
	return sess, logger, nil
}

// RunRead reads one tag and prints its value.
func RunRead(ctx context.Context, opts ToolOptions) error {
	kind := strings.ToLower(opts.Type)
	if kind == "" {
		kind = ReadScalar
	}
	switch kind {
	case ReadScalar, ReadDint, ReadLint, ReadReal, ReadDint7:
	default:
		return fmt.Errorf("unknown read type %q (want scalar, dint, lint, real or dint7)", opts.Type)
	}

	sess, logger, err := toolSession(ctx, &opts)
	if err != nil {
		return err
	}
	defer logger.Close()
	defer sess.Close()

	text, err := readTag(ctx, cipclient.NewTags(sess, logger), opts.Tag, kind)
	if err != nil {
		return plcerrors.WrapCIPError(err, "read", opts.Tag)
	}
	fmt.Fprintf(opts.Stdout, "%s = %s\n", opts.Tag, text)
	if opts.Copy {
		if err := clipboard.WriteAll(text); err != nil {
			return fmt.Errorf("copy to clipboard: %w", err)
		}
		fmt.Fprintln(opts.Stdout, "Copied to clipboard")
	}
	return nil
}

func readTag(ctx context.Context, tags *cipclient.Tags, tag, kind string) (string, error) {
	switch kind {
	case ReadDint:
		v, err := tags.ReadDint(ctx, tag)
		return protocol.Dint(v).String(), err
	case ReadLint:
		v, err := tags.ReadLint(ctx, tag)
		return protocol.Lint(v).String(), err
	case ReadReal:
		v, err := tags.ReadReal(ctx, tag)
		return protocol.Real(v).String(), err
	case ReadDint7:
		raw, err := tags.ReadDintArray7(ctx, tag)
		if err != nil {
			return "", err
		}
		parts := make([]string, len(raw))
		for i, v := range raw {
			parts[i] = protocol.Dint(v).String()
		}
		text := "[" + strings.Join(parts, " ") + "]"
		dt := plctime.FromArray(raw)
		if ms, err := dt.EpochMillis(0); err == nil {
			text += " " + plctime.FormatISO(ms)
		}
		return text, nil
	default:
		v, err := tags.ReadScalar(ctx, tag)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s (%s)", v, v.Type()), nil
	}
}

// RunWrite writes one BOOL or DINT value.
func RunWrite(ctx context.Context, opts ToolOptions) error {
	typ, err := protocol.ParseDataType(opts.Type)
	if err != nil {
		return err
	}
	if typ != protocol.TypeBOOL && typ != protocol.TypeDINT {
		return fmt.Errorf("write supports BOOL and DINT, not %s", typ)
	}
	if opts.Value == "" {
		return fmt.Errorf("a value is required")
	}
	value, err := config.CoerceValue(typ, opts.Value)
	if err != nil {
		return err
	}

	sess, logger, err := toolSession(ctx, &opts)
	if err != nil {
		return err
	}
	defer logger.Close()
	defer sess.Close()

	if err := cipclient.NewTags(sess, logger).WriteValue(ctx, opts.Tag, value); err != nil {
		return plcerrors.WrapCIPError(err, "write", opts.Tag)
	}
	fmt.Fprintf(opts.Stdout, "%s <- %s\n", opts.Tag, value)
	return nil
}

// RunIncrement adds one to a DINT tag.
func RunIncrement(ctx context.Context, opts ToolOptions) error {
	sess, logger, err := toolSession(ctx, &opts)
	if err != nil {
		return err
	}
	defer logger.Close()
	defer sess.Close()

	next, err := cipclient.NewTags(sess, logger).IncrementDint(ctx, opts.Tag)
	if err != nil {
		return plcerrors.WrapCIPError(err, "increment", opts.Tag)
	}
	fmt.Fprintf(opts.Stdout, "%s = %d\n", opts.Tag, next)
	return nil
}
