package hdp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/mqtt"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/ucapi"
)

type published struct {
	topic   string
	payload []byte
	retain  bool
}

type fakeClient struct {
	mu   sync.Mutex
	subs map[string]mqtt.Handler
	pubs []published
}

func newFakeClient() *fakeClient { return &fakeClient{subs: map[string]mqtt.Handler{}} }

func (c *fakeClient) Subscribe(topic string, cb mqtt.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = cb
	return nil
}

func (c *fakeClient) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, topic)
	return nil
}

func (c *fakeClient) Publish(topic string, payload []byte) error {
	return c.PublishWith(topic, payload, false)
}

func (c *fakeClient) PublishWith(topic string, payload []byte, retain bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubs = append(c.pubs, published{topic: topic, payload: payload, retain: retain})
	return nil
}

func (c *fakeClient) find(topic string) (map[string]any, published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.pubs) - 1; i >= 0; i-- {
		if c.pubs[i].topic == topic {
			var m map[string]any
			_ = json.Unmarshal(c.pubs[i].payload, &m)
			return m, c.pubs[i], true
		}
	}
	return nil, published{}, false
}

type fakeRelay struct {
	entities *ucapi.Entities
	code     ucapi.StatusCode
	entity   string
	cmd      string
	params   map[string]any
}

func newFakeRelay(code ucapi.StatusCode) *fakeRelay {
	r := &fakeRelay{entities: ucapi.NewEntities("available"), code: code}
	_ = r.entities.Add(ucapi.NewMediaPlayer("http-get", "HTTP Get", []ucapi.MediaPlayerFeature{ucapi.FeatureSelectSource}, nil, nil))
	return r
}

func (r *fakeRelay) AvailableEntities() *ucapi.Entities { return r.entities }

func (r *fakeRelay) ExecuteCommand(_ context.Context, entityID, cmdID string, params map[string]any) ucapi.StatusCode {
	r.entity, r.cmd, r.params = entityID, cmdID, params
	if r.code == ucapi.StatusOK {
		r.entities.UpdateAttributes(entityID, map[string]any{ucapi.AttrState: ucapi.StateOn, ucapi.AttrSource: params["source"]})
	}
	return r.code
}

func TestStartAnnouncesAdapterAndEntities(t *testing.T) {
	client := newFakeClient()
	b := New(client, newFakeRelay(ucapi.StatusOK), Config{AdapterID: "intg-requests", Version: "1.0.0"})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Stop()

	hello, _, ok := client.find(hdpAdapterHelloTopic)
	if !ok || hello["adapter_id"] != "intg-requests" || hello["protocol"] != "requests" {
		t.Fatalf("unexpected hello: %v", hello)
	}
	status, pub, ok := client.find(StatusTopic("intg-requests"))
	if !ok || status["status"] != "online" || !pub.retain {
		t.Fatalf("expected retained online status, got %v", status)
	}
	meta, _, ok := client.find(hdpMetadataPrefix + "requests/http-get")
	if !ok || meta["name"] != "HTTP Get" {
		t.Fatalf("unexpected metadata: %v", meta)
	}
	if _, ok := client.subs[hdpCommandPrefix+"requests/#"]; !ok {
		t.Fatalf("command topic not subscribed: %v", client.subs)
	}
}

func TestCommandRelayPublishesResult(t *testing.T) {
	client := newFakeClient()
	relay := newFakeRelay(ucapi.StatusOK)
	b := New(client, relay, Config{AdapterID: "intg-requests"})

	payload := []byte(`{"command":"select_source","args":{"source":"http://x"},"corr":"c-1"}`)
	b.handleDeviceCommand(hdpCommandPrefix+"requests/http-get", payload)

	if relay.entity != "http-get" || relay.cmd != ucapi.CmdSelectSource || relay.params["source"] != "http://x" {
		t.Fatalf("relay got %s %s %v", relay.entity, relay.cmd, relay.params)
	}
	res, _, ok := client.find(hdpCommandResultPrefix + "requests/http-get")
	if !ok {
		t.Fatalf("no command_result published")
	}
	if res["corr"] != "c-1" || res["success"] != true || res["status"] != "OK" {
		t.Fatalf("unexpected result: %v", res)
	}
	state, pub, ok := client.find(hdpStatePrefix + "requests/http-get")
	if !ok || !pub.retain {
		t.Fatalf("expected retained state")
	}
	if attrs, _ := state["state"].(map[string]any); attrs["source"] != "http://x" {
		t.Fatalf("unexpected state: %v", state)
	}
}

func TestCommandRelayFailure(t *testing.T) {
	client := newFakeClient()
	b := New(client, newFakeRelay(ucapi.StatusServiceUnavailable), Config{AdapterID: "intg-requests"})

	b.handleDeviceCommand(hdpCommandPrefix+"requests/http-get", []byte(`{"device_id":"requests/http-get","args":{"source":"http://x"},"correlation_id":"c-2"}`))

	res, _, ok := client.find(hdpCommandResultPrefix + "requests/http-get")
	if !ok {
		t.Fatalf("no command_result published")
	}
	if res["corr"] != "c-2" || res["success"] != false || res["status"] != "SERVICE_UNAVAILABLE" || res["error"] == nil {
		t.Fatalf("unexpected result: %v", res)
	}
	if _, _, ok := client.find(hdpStatePrefix + "requests/http-get"); ok {
		t.Fatalf("failed command must not publish state")
	}
}

func TestCommandDecodeErrorIgnored(t *testing.T) {
	client := newFakeClient()
	relay := newFakeRelay(ucapi.StatusOK)
	New(client, relay, Config{}).handleDeviceCommand(hdpCommandPrefix+"requests/http-get", []byte(`{`))
	if relay.entity != "" || len(client.pubs) != 0 {
		t.Fatalf("malformed command should be dropped")
	}
}

func TestEntityFromDeviceID(t *testing.T) {
	cases := map[string]string{
		"requests/http-get": "http-get",
		"/requests/wol/":    "wol",
		"tcp-text":          "tcp-text",
		"":                  "",
	}
	for in, want := range cases {
		if got := entityFromDeviceID(in); got != want {
			t.Fatalf("entityFromDeviceID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOfflineStatus(t *testing.T) {
	var m map[string]any
	if err := json.Unmarshal(OfflineStatus("intg-requests", "dev"), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m["status"] != "offline" || m["adapter_id"] != "intg-requests" {
		t.Fatalf("unexpected will payload: %v", m)
	}
}
