package blobstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidateURL(t *testing.T) {
	client := NewClient("blobs.example.com")
	accountID := uuid.New()
	ownPath := "https://blobs.example.com/screenshots/" + accountID.String() + "/receipt.png"

	tests := []struct {
		name    string
		rawURL  string
		wantErr bool
	}{
		{"trusted url", ownPath, false},
		{"plain http", strings.Replace(ownPath, "https://", "http://", 1), true},
		{"wrong host", "https://evil.example.net/screenshots/" + accountID.String() + "/receipt.png", true},
		{"subdomain of trusted host", "https://blobs.example.com.evil.net/screenshots/" + accountID.String() + "/receipt.png", true},
		{"another account's namespace", "https://blobs.example.com/screenshots/" + uuid.New().String() + "/receipt.png", true},
		{"outside screenshot prefix", "https://blobs.example.com/uploads/" + accountID.String() + "/receipt.png", true},
		{"unparsable", "https://blobs.example.com/%zz", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.ValidateURL(tt.rawURL, accountID)
			if tt.wantErr {
				if !errors.Is(err, ErrUntrustedURL) {
					t.Errorf("err = %v, want ErrUntrustedURL", err)
				}
				return
			}
			if err != nil {
				t.Errorf("err = %v, want nil", err)
			}
		})
	}
}

func TestValidateURLCaseInsensitiveHost(t *testing.T) {
	client := NewClient("Blobs.Example.COM")
	accountID := uuid.New()

	err := client.ValidateURL("https://BLOBS.example.com/screenshots/"+accountID.String()+"/r.png", accountID)
	if err != nil {
		t.Fatalf("err = %v, want the host comparison to ignore case", err)
	}
}

func TestFetchRefusesUntrustedURL(t *testing.T) {
	// No server is needed; validation must fail before any request is made.
	client := NewClient("blobs.example.com")
	_, err := client.Fetch(context.Background(), "https://evil.example.net/screenshots/x/r.png", uuid.New())
	if !errors.Is(err, ErrUntrustedURL) {
		t.Fatalf("err = %v, want ErrUntrustedURL", err)
	}
}

func TestFetchReturnsBody(t *testing.T) {
	payload := []byte("png-bytes")
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	accountID := uuid.New()
	host := strings.TrimPrefix(server.URL, "https://")
	client := NewClient(strings.Split(host, ":")[0])
	client.HTTPClient = server.Client()

	// The test server listens on an ephemeral port; rebuild the URL through it.
	rawURL := server.URL + "/screenshots/" + accountID.String() + "/receipt.png"
	data, err := client.Fetch(context.Background(), rawURL, accountID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("body = %q, want %q", data, payload)
	}
}

func TestFetchRejectsNon200(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	accountID := uuid.New()
	host := strings.TrimPrefix(server.URL, "https://")
	client := NewClient(strings.Split(host, ":")[0])
	client.HTTPClient = server.Client()

	_, err := client.Fetch(context.Background(), server.URL+"/screenshots/"+accountID.String()+"/r.png", accountID)
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
