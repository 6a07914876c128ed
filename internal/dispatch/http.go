package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/setup"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/ucapi"
)

const maxResponseBody = 1 << 20

func (d *Dispatcher) sendHTTP(ctx context.Context, kind Kind, source string) ucapi.StatusCode {
	method := httpMethods[kind]
	target, body := splitOnce(source, bodySeparator)
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		d.log.Error("invalid request url", "url", target)
		return ucapi.StatusBadRequest
	}

	timeout := d.seconds(setup.KeyTimeout, 2)
	client := d.secure
	if !d.flag(setup.KeySSLVerify, true) {
		client = d.insecure
	}

	if d.flag(setup.KeyFireAndForget, false) {
		// The hub only learns that the request was sent.
		go func() {
			bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
			defer cancel()
			code := d.doHTTP(bg, client, method, u.String(), body)
			d.log.Debug("fire and forget request finished", "method", method, "url", u.String(), "status", code)
		}()
		return ucapi.StatusOK
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.doHTTP(reqCtx, client, method, u.String(), body)
}

func (d *Dispatcher) doHTTP(ctx context.Context, client *http.Client, method, target, body string) ucapi.StatusCode {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		d.log.Error("build request failed", "method", method, "url", target, "error", err)
		return ucapi.StatusBadRequest
	}
	req.Header.Set("User-Agent", d.userAgent())
	if body != "" {
		if json.Valid([]byte(body)) {
			req.Header.Set("Content-Type", "application/json")
		} else {
			req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		}
	}

	res, err := client.Do(req)
	if err != nil {
		code := StatusFromError(err)
		d.log.Error("request failed", "method", method, "url", target, "status", code, "error", err)
		return code
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseBody))

	code := StatusFromHTTP(res.StatusCode)
	if code == ucapi.StatusOK {
		d.log.Info("request sent", "method", method, "url", target, "http_status", res.StatusCode)
	} else {
		d.log.Warn("request rejected", "method", method, "url", target, "http_status", res.StatusCode, "status", code)
	}
	return code
}
