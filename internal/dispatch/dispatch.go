// Package dispatch performs the request behind a media player entity:
// HTTP requests, Wake-on-LAN packets and text over TCP.
package dispatch

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/logging"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/setup"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/ucapi"
)

var commandCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "intg_commands_total",
		Help: "Entity commands dispatched by kind and resulting status.",
	},
	[]string{"kind", "status"},
)

func init() { prometheus.MustRegister(commandCounter) }

// Settings is the read side of the setup store the dispatcher needs.
type Settings interface {
	GetString(key string) (string, error)
	GetBool(key string) (bool, error)
	GetFloat(key string) (float64, error)
}

// Kind is the request type an entity performs; it is also the command
// identifier under which the entity is configured (id-<kind>).
type Kind string

const (
	KindGet     Kind = "get"
	KindPost    Kind = "post"
	KindPatch   Kind = "patch"
	KindPut     Kind = "put"
	KindDelete  Kind = "delete"
	KindHead    Kind = "head"
	KindWOL     Kind = "wol"
	KindTCPText Kind = "tcp-text"
)

var kinds = []Kind{KindGet, KindPost, KindPatch, KindPut, KindDelete, KindHead, KindWOL, KindTCPText}

var httpMethods = map[Kind]string{
	KindGet:    http.MethodGet,
	KindPost:   http.MethodPost,
	KindPatch:  http.MethodPatch,
	KindPut:    http.MethodPut,
	KindDelete: http.MethodDelete,
	KindHead:   http.MethodHead,
}

// Supports reports whether cmd names a request kind the dispatcher performs.
func Supports(cmd string) bool {
	for _, k := range kinds {
		if string(k) == cmd {
			return true
		}
	}
	return false
}

// bodySeparator splits an HTTP source into url and request body.
const bodySeparator = "§"

type Dispatcher struct {
	settings Settings
	log      *slog.Logger

	secure   *http.Client
	insecure *http.Client

	// WOLAddr is the UDP destination of magic packets.
	WOLAddr string
}

func New(settings Settings) *Dispatcher {
	base := http.DefaultTransport.(*http.Transport)
	insecureTransport := base.Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return &Dispatcher{
		settings: settings,
		log:      logging.Named("media_player"),
		secure:   &http.Client{Transport: base.Clone()},
		insecure: &http.Client{Transport: insecureTransport},
		WOLAddr:  "255.255.255.255:9",
	}
}

// Dispatch runs cmdID for the entity and returns the hub status. Only
// select_source is supported; params["source"] is the request target.
func (d *Dispatcher) Dispatch(ctx context.Context, entityID, cmdID string, params map[string]any) ucapi.StatusCode {
	ctx, span := otel.Tracer("intg-requests/dispatch").Start(ctx, "dispatch "+cmdID)
	defer span.End()
	span.SetAttributes(attribute.String("entity.id", entityID), attribute.String("command.id", cmdID))

	kind, ok := d.kindFor(entityID)
	if !ok {
		d.log.Warn("no request kind configured for entity", "entity_id", entityID)
		return d.finish(span, "unknown", ucapi.StatusNotFound)
	}
	span.SetAttributes(attribute.String("request.kind", string(kind)))

	if cmdID != ucapi.CmdSelectSource {
		d.log.Warn("unsupported command", "entity_id", entityID, "cmd_id", cmdID)
		return d.finish(span, kind, ucapi.StatusNotImplemented)
	}
	source, _ := params["source"].(string)
	source = strings.TrimSpace(source)
	if source == "" {
		d.log.Error("missing source parameter", "entity_id", entityID)
		return d.finish(span, kind, ucapi.StatusBadRequest)
	}

	var code ucapi.StatusCode
	switch kind {
	case KindWOL:
		code = d.wakeOnLAN(source)
	case KindTCPText:
		code = d.sendTCPText(ctx, source)
	default:
		code = d.sendHTTP(ctx, kind, source)
	}
	return d.finish(span, kind, code)
}

func (d *Dispatcher) finish(span trace.Span, kind Kind, code ucapi.StatusCode) ucapi.StatusCode {
	span.SetAttributes(attribute.Int("command.status", int(code)))
	if code != ucapi.StatusOK {
		span.SetStatus(codes.Error, code.String())
	}
	commandCounter.WithLabelValues(string(kind), code.String()).Inc()
	return code
}

func (d *Dispatcher) kindFor(entityID string) (Kind, bool) {
	for _, k := range kinds {
		id, err := d.settings.GetString(setup.IDKey(string(k)))
		if err != nil {
			continue
		}
		if id == entityID {
			return k, true
		}
	}
	return "", false
}

func (d *Dispatcher) seconds(key string, def float64) time.Duration {
	v, err := d.settings.GetFloat(key)
	if err != nil || v <= 0 {
		v = def
	}
	return time.Duration(v * float64(time.Second))
}

func (d *Dispatcher) flag(key string, def bool) bool {
	v, err := d.settings.GetBool(key)
	if err != nil {
		return def
	}
	return v
}

func (d *Dispatcher) userAgent() string {
	ua, err := d.settings.GetString(setup.KeyUserAgent)
	if err != nil || ua == "" {
		return "intg-requests"
	}
	return ua
}

func splitOnce(s, sep string) (string, string) {
	before, after, found := strings.Cut(s, sep)
	if !found {
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(before), strings.TrimSpace(after)
}
