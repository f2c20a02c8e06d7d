// Package secrets resolves the API token from the place it is kept.
//
// A token setting is one of:
//
//	op://<vault>/<item>/<field>            1Password Connect
//	op://<vault>/<item>/<section>/<field>  1Password Connect, field inside a section
//	env:<NAME>                             environment variable
//	file:<path>                            file contents, surrounding whitespace trimmed
//	anything else                          the token itself
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
)

// ErrNotConfigured is returned for op:// references when no Connect server is set.
var ErrNotConfigured = errors.New("1Password Connect is not configured (set OP_CONNECT_HOST and OP_CONNECT_TOKEN)")

// ItemSource is the part of connect.Client the resolver uses.
type ItemSource interface {
	GetItemsByTitle(title string, vaultQuery string) ([]onepassword.Item, error)
	GetItem(itemQuery string, vaultQuery string) (*onepassword.Item, error)
}

// Config holds configuration for 1Password Connect.
type Config struct {
	Host  string // OP_CONNECT_HOST
	Token string // OP_CONNECT_TOKEN
}

// Resolver turns token settings into tokens.
type Resolver struct {
	items  ItemSource
	logger *slog.Logger
}

// NewResolver creates a resolver. op:// references are only resolvable when
// both Connect host and token are set.
func NewResolver(cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{logger: logger.With("component", "secrets")}
	if cfg.Host != "" && cfg.Token != "" {
		r.items = connect.NewClientWithUserAgent(cfg.Host, cfg.Token, "ctrlupgrade")
	}
	return r
}

// NewResolverWithSource creates a resolver backed by the given item source.
func NewResolverWithSource(items ItemSource, logger *slog.Logger) *Resolver {
	r := NewResolver(Config{}, logger)
	r.items = items
	return r
}

// Resolve returns the token a setting refers to.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case ref == "":
		return "", nil

	case strings.HasPrefix(ref, "op://"):
		return r.fromOnePassword(ctx, ref)

	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		v := os.Getenv(name)
		if v == "" {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return v, nil

	case strings.HasPrefix(ref, "file:"):
		path := strings.TrimPrefix(ref, "file:")
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading token file: %w", err)
		}
		v := strings.TrimSpace(string(data))
		if v == "" {
			return "", fmt.Errorf("token file %s is empty", path)
		}
		return v, nil

	default:
		return ref, nil
	}
}

// Reference is a parsed op:// reference.
type Reference struct {
	Vault   string
	Item    string
	Section string
	Field   string
}

// ParseReference parses op://vault/item/[section/]field.
func ParseReference(ref string) (Reference, error) {
	rest, ok := strings.CutPrefix(ref, "op://")
	if !ok {
		return Reference{}, fmt.Errorf("not a 1Password reference: %q", ref)
	}

	parts := strings.Split(rest, "/")
	for _, p := range parts {
		if p == "" {
			return Reference{}, fmt.Errorf("malformed 1Password reference: %q", ref)
		}
	}

	switch len(parts) {
	case 3:
		return Reference{Vault: parts[0], Item: parts[1], Field: parts[2]}, nil
	case 4:
		return Reference{Vault: parts[0], Item: parts[1], Section: parts[2], Field: parts[3]}, nil
	default:
		return Reference{}, fmt.Errorf("malformed 1Password reference: %q (want op://vault/item/[section/]field)", ref)
	}
}

func (r *Resolver) fromOnePassword(ctx context.Context, raw string) (string, error) {
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}
	if r.items == nil {
		return "", ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	items, err := r.items.GetItemsByTitle(ref.Item, ref.Vault)
	if err != nil {
		return "", fmt.Errorf("listing items: %w", err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("item %q not found in vault %q", ref.Item, ref.Vault)
	}
	if len(items) > 1 {
		r.logger.Warn("several items share a title, using the first", "item", ref.Item, "vault", ref.Vault)
	}

	// Listing omits field values.
	item, err := r.items.GetItem(items[0].ID, ref.Vault)
	if err != nil {
		return "", fmt.Errorf("getting item: %w", err)
	}

	for _, f := range item.Fields {
		if !matches(f.Label, f.ID, ref.Field) {
			continue
		}
		if ref.Section != "" && (f.Section == nil || !matches(f.Section.Label, f.Section.ID, ref.Section)) {
			continue
		}
		if f.Value == "" {
			return "", fmt.Errorf("field %q of item %q is empty", ref.Field, ref.Item)
		}
		r.logger.Debug("resolved token from 1Password", "vault", ref.Vault, "item", ref.Item, "field", ref.Field)
		return f.Value, nil
	}
	return "", fmt.Errorf("field %q not found in item %q", ref.Field, ref.Item)
}

func matches(label, id, want string) bool {
	return strings.EqualFold(label, want) || id == want
}
