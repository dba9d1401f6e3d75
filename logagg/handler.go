package logagg

import (
	"context"
	"log/slog"

	"github.com/baxromumarov/taskrt/ident"
)

// SiteKey is the attribute key that overrides a Handler's site for one
// record.
const SiteKey = "site"

// Handler is a slog.Handler that feeds records into an Aggregator, so host
// code can keep using *slog.Logger while getting per-site rate limiting.
type Handler struct {
	agg    *Aggregator
	site   string
	attrs  map[string]any
	prefix string // dotted group path, with trailing "."
}

// NewHandler returns a Handler emitting at site.
func NewHandler(agg *Aggregator, site string) *Handler {
	return &Handler{agg: agg, site: site}
}

// NewLogger is shorthand for slog.New(NewHandler(agg, site)).
func NewLogger(agg *Aggregator, site string) *slog.Logger {
	return slog.New(NewHandler(agg, site))
}

func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return h.agg.Enabled(h.site, FromSlog(l))
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	site := h.site
	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for k, v := range h.attrs {
		fields[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		if h.prefix == "" && a.Key == SiteKey && a.Value.Kind() == slog.KindString {
			site = a.Value.String()
			return true
		}
		addAttr(fields, h.prefix, a)
		return true
	})

	// Stamp with the aggregator clock so records share its zone.
	rec := NewRecord(h.agg.Now(), FromSlog(r.Level), site, r.Message, fields)
	if id, ok := ident.CorrelationFrom(ctx); ok {
		rec.CorrelationID = id
	}
	h.agg.Emit(rec)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = make(map[string]any, len(h.attrs)+len(attrs))
	for k, v := range h.attrs {
		h2.attrs[k] = v
	}
	for _, a := range attrs {
		if h.prefix == "" && a.Key == SiteKey && a.Value.Kind() == slog.KindString {
			h2.site = a.Value.String()
			continue
		}
		addAttr(h2.attrs, h.prefix, a)
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func addAttr(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range v.Group() {
			addAttr(dst, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[prefix+a.Key] = attrValue(v)
}

func attrValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	default:
		return v.Any()
	}
}
