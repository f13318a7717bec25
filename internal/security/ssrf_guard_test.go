package security

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestNewSafeClientTimeout はタイムアウト設定が反映されることをテストする。
func TestNewSafeClientTimeout(t *testing.T) {
	guard := NewSSRFGuard()
	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout, 1024)
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport")
	}
}

// TestNewSafeClientBlocksLoopback はSafeClientがループバックへのリクエストをブロックすることをテストする。
// httptestサーバーは127.0.0.1で起動されるため、safeurlがブロックする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSSRFGuard().NewSafeClient(5*time.Second, 1024)

	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestLimitedTransport(t *testing.T) {
	body := strings.Repeat("x", 100)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Content-Lengthを付けずにストリーミングで返す
		w.(http.Flusher).Flush()
		io.WriteString(w, body)
	}))
	defer ts.Close()

	t.Run("上限以内は全て読める", func(t *testing.T) {
		client := &http.Client{Transport: &limitedTransport{base: http.DefaultTransport, limit: 100}}
		resp, err := client.Get(ts.URL)
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		defer resp.Body.Close()

		got, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("ReadAll returned error: %v", err)
		}
		if string(got) != body {
			t.Errorf("read %d bytes, want %d", len(got), len(body))
		}
	})

	t.Run("上限超過はErrResponseTooLarge", func(t *testing.T) {
		client := &http.Client{Transport: &limitedTransport{base: http.DefaultTransport, limit: 10}}
		resp, err := client.Get(ts.URL)
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		defer resp.Body.Close()

		got, err := io.ReadAll(resp.Body)
		if !errors.Is(err, ErrResponseTooLarge) {
			t.Fatalf("ReadAll error = %v, want ErrResponseTooLarge", err)
		}
		if len(got) != 10 {
			t.Errorf("read %d bytes before failing, want 10", len(got))
		}
	})
}

func TestLimitedTransport_RejectsLargeContentLength(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("y", 64)))
	}))
	defer ts.Close()

	client := &http.Client{Transport: &limitedTransport{base: http.DefaultTransport, limit: 8}}
	_, err := client.Get(ts.URL)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("Get error = %v, want ErrResponseTooLarge", err)
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewSSRFGuard()

	allowed := []string{
		"https://example.com/nodeInfo-ABC",
		"http://notary.example.org/nodeInfo-1",
		"https://notary.example.org:443/nodeInfo-1",
	}
	for _, u := range allowed {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err != nil {
				t.Errorf("ValidateURL(%q) returned error: %v", u, err)
			}
		})
	}

	rejected := []string{
		"",
		"not-a-url",
		"ftp://example.com/nodeInfo",
		"file:///etc/passwd",
		"http://10.0.0.1/nodeInfo",
		"http://172.16.0.1/nodeInfo",
		"http://192.168.1.100/nodeInfo",
		"http://127.0.0.1/nodeInfo",
		"http://localhost/nodeInfo",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/nodeInfo",
		"http://0.0.0.0/nodeInfo",
		"https://example.com:8443/nodeInfo",
	}
	for _, u := range rejected {
		t.Run("reject "+u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err == nil {
				t.Errorf("ValidateURL(%q) should have returned error", u)
			}
		})
	}
}

func TestValidateURL_CustomPorts(t *testing.T) {
	guard := NewSSRFGuard(8443)

	if err := guard.ValidateURL("https://example.com:8443/nodeInfo"); err != nil {
		t.Errorf("expected port 8443 to be allowed: %v", err)
	}
	if err := guard.ValidateURL("https://example.com:443/nodeInfo"); err == nil {
		t.Error("expected port 443 to be rejected when only 8443 is allowed")
	}
}

func TestSSRFGuardInterface(t *testing.T) {
	var _ SSRFGuardService = NewSSRFGuard()
}
