package setup

const (
	KeyCommands      = "cmds"
	KeyStandby       = "standby"
	KeyTimeout       = "rq_timeout"
	KeySSLVerify     = "rq_ssl_verify"
	KeyFireAndForget = "rq_fire_and_forget"
	KeyUserAgent     = "rq_user_agent"
	KeyTCPTimeout    = "tcp_text_timeout"
)

func IDKey(cmd string) string   { return "id-" + cmd }
func NameKey(cmd string) string { return "name-" + cmd }

type defaultCommand struct {
	cmd, id, name string
}

var defaultCommands = []defaultCommand{
	{"get", "http-get", "HTTP Get"},
	{"post", "http-post", "HTTP Post"},
	{"patch", "http-patch", "HTTP Patch"},
	{"put", "http-put", "HTTP Put"},
	{"delete", "http-delete", "HTTP Delete"},
	{"head", "http-head", "HTTP Head"},
	{"wol", "wol", "Wake on LAN"},
	{"tcp-text", "tcp-text", "Text over TCP"},
}

// optionDefaults apply to every store, including files written by older
// versions that lack the keys.
var optionDefaults = map[string]any{
	KeyStandby:       false,
	KeyTimeout:       2,
	KeySSLVerify:     true,
	KeyFireAndForget: false,
	KeyUserAgent:     "intg-requests",
	KeyTCPTimeout:    2,
}
