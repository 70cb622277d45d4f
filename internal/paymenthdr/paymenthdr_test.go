package paymenthdr

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meterly/gateway/internal/chainreg"
)

func encodedHeader(t *testing.T, h Header) string {
	t.Helper()
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func TestExtract_Missing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := Extract(r)
	if ok {
		t.Fatal("expected no header")
	}
}

func TestExtract_PaymentSignatureHeader(t *testing.T) {
	h := Header{X402Version: 2, Accepted: Accepted{CAIP2: chainreg.FastCAIP2}}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("payment-signature", encodedHeader(t, h))

	got, ok := Extract(r)
	if !ok {
		t.Fatal("expected header to be extracted")
	}
	if got.X402Version != 2 || got.Accepted.CAIP2 != chainreg.FastCAIP2 {
		t.Fatalf("unexpected header: %+v", got)
	}
}

func TestExtract_XPaymentHeaderCaseInsensitive(t *testing.T) {
	h := Header{X402Version: 2, Accepted: Accepted{CAIP2: chainreg.SlowACAIP2}}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Payment", encodedHeader(t, h))

	got, ok := Extract(r)
	if !ok {
		t.Fatal("expected header to be extracted")
	}
	if got.Accepted.CAIP2 != chainreg.SlowACAIP2 {
		t.Fatalf("unexpected header: %+v", got)
	}
}

func TestExtract_MalformedBase64(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("x-payment", "not-valid-base64!!")
	_, ok := Extract(r)
	if ok {
		t.Fatal("expected malformed header to be treated as absent")
	}
}

func TestExtract_MalformedJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("x-payment", base64.StdEncoding.EncodeToString([]byte("not json")))
	_, ok := Extract(r)
	if ok {
		t.Fatal("expected malformed JSON to be treated as absent")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		caip2 string
		want  Rail
	}{
		{chainreg.FastCAIP2, RailFast},
		{chainreg.SlowACAIP2, RailSlowA},
		{chainreg.SlowBCAIP2, RailSlowB},
		{"eip155:999", RailUnknown},
		{"", RailUnknown},
	}
	for _, c := range cases {
		got := Classify(Header{Accepted: Accepted{CAIP2: c.caip2}})
		if got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.caip2, got, c.want)
		}
	}
}
