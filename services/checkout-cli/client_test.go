package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func TestClientPaymentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payment/123":
			writeJSON(w, http.StatusOK, `{"chargeId": "123", "status": "approved", "itemIds": ["ebook-a"], "firstTimeSettled": true}`)
		default:
			writeJSON(w, http.StatusNotFound, `{"errorKind": "ChargeNotFound", "message": "charge not found"}`)
		}
	}))
	defer srv.Close()

	client := NewStorefrontClient(srv.URL, "", time.Second)

	status, err := client.PaymentStatus(context.Background(), "123")
	require.NoError(t, err)
	assert.True(t, status.Approved())
	assert.Equal(t, []string{"ebook-a"}, status.ItemIDs)

	_, err = client.PaymentStatus(context.Background(), "404")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ChargeNotFound", apiErr.ErrorKind)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClientCheckoutPix(t *testing.T) {
	var got checkoutRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkout/pix", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, `{"chargeId": "555", "status": "pending", "qrText": "000201", "total": 119.9}`)
	}))
	defer srv.Close()

	result, err := NewStorefrontClient(srv.URL, "", time.Second).CheckoutPix(context.Background(),
		[]string{"ebook-a"}, Customer{Name: "Maria Silva", Email: "maria@example.com", CPF: "52998224725"})
	require.NoError(t, err)

	assert.Equal(t, "555", result.ChargeID)
	assert.Equal(t, "000201", result.QRText)
	assert.Equal(t, []checkoutItem{{ID: "ebook-a"}}, got.Items)
	assert.Equal(t, "52998224725", got.Customer.CPF)
}

func TestClientAdminRoutesSendSecret(t *testing.T) {
	var secrets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secrets = append(secrets, r.Header.Get(adminSecretHeader))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/admin/sales":
			writeJSON(w, http.StatusOK, `[{"charge_id": "1", "email": "maria@example.com", "total_cents": 11990, "items": ["O Segredo das Galinhas"]}]`)
		case r.Method == http.MethodDelete && r.URL.Path == "/admin/sales":
			writeJSON(w, http.StatusOK, `{"purged": true}`)
		case r.URL.Path == "/admin/sales/1/resend":
			writeJSON(w, http.StatusOK, `{"resent": "1"}`)
		case r.URL.Path == "/admin/recover":
			assert.Equal(t, "7", r.URL.Query().Get("days"))
			writeJSON(w, http.StatusOK, `{"scanned": 3, "recovered": 1, "recovered_ids": ["2"]}`)
		default:
			writeJSON(w, http.StatusNotFound, `{"errorKind": "SaleNotFound", "message": "sale not found"}`)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	client := NewStorefrontClient(srv.URL, "admin-secret", time.Second)

	sales, err := client.ListSales(ctx)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, int64(11990), sales[0].TotalCents)

	require.NoError(t, client.PurgeSales(ctx))
	require.NoError(t, client.ResendAccess(ctx, "1"))

	report, err := client.RecoverSales(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, []string{"2"}, report.RecoveredIDs)

	err = client.ResendAccess(ctx, "404")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "SaleNotFound", apiErr.ErrorKind)

	for _, s := range secrets {
		assert.Equal(t, "admin-secret", s)
	}
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewStorefrontClient(srv.URL, "", time.Second).PaymentStatus(context.Background(), "1")
	assert.Error(t, err)
}

func TestWatchChargeUntilApproved(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeJSON(w, http.StatusOK, `{"chargeId": "123", "status": "pending", "message": "Aguardando o pagamento do Pix."}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"chargeId": "123", "status": "approved", "itemIds": ["bonus-guide", "ebook-a"]}`)
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := watchCharge(context.Background(), &out, NewStorefrontClient(srv.URL, "", time.Second), "123", "https://loja.example.com/downloads.html")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "[01] pending"))
	assert.True(t, strings.HasPrefix(lines[1], "[02] approved"))
	assert.Equal(t, "Approved! Delivery page: https://loja.example.com/downloads.html?items=bonus-guide%2Cebook-a", lines[2])
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWatchChargeStopsOnRejection(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusOK, `{"chargeId": "123", "status": "rejected", "message": "Cartão recusado pelo banco."}`)
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := watchCharge(context.Background(), &out, NewStorefrontClient(srv.URL, "", time.Second), "123", "https://loja.example.com/downloads.html")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	assert.Contains(t, out.String(), "[01] rejected")
	assert.NotContains(t, out.String(), "Approved")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClientSendsRequestIDPerRequest(t *testing.T) {
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids = append(ids, r.Header.Get(requestIDHeader))
		writeJSON(w, http.StatusOK, `{"chargeId": "123", "status": "pending"}`)
	}))
	defer srv.Close()

	client := NewStorefrontClient(srv.URL, "", time.Second)
	for i := 0; i < 3; i++ {
		_, err := client.PaymentStatus(context.Background(), "123")
		require.NoError(t, err)
	}

	require.Len(t, ids, 3)
	assert.NotEmpty(t, ids[0])
	assert.NotEqual(t, ids[0], ids[1])
	assert.NotEqual(t, ids[1], ids[2])
}

func TestWatchChargeAbandoned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"chargeId": "123", "status": "pending"}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	err := watchCharge(ctx, &out, NewStorefrontClient(srv.URL, "", time.Second), "123", "https://loja.example.com/downloads.html")
	assert.Error(t, err)
	assert.False(t, strings.Contains(out.String(), "Approved"))
}

func TestDeliveryURL(t *testing.T) {
	assert.Equal(t, "https://loja.example.com/downloads.html", deliveryURL("https://loja.example.com/downloads.html", nil))
	assert.Equal(t, "https://loja.example.com/downloads.html?items=ebook-a", deliveryURL("https://loja.example.com/downloads.html", []string{"ebook-a"}))
}

func TestPrintSales(t *testing.T) {
	var out bytes.Buffer
	printSales(&out, nil)
	assert.Contains(t, out.String(), "No sales recorded")

	out.Reset()
	printSales(&out, []Sale{{ChargeID: "1", Email: "maria@example.com", TotalCents: 11990, Items: []string{"O Segredo das Galinhas"}, Method: "pix"}})
	assert.Contains(t, out.String(), "maria@example.com")
	assert.Contains(t, out.String(), "R$ 119.90")
}

func TestRootCommandUsesEnvFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(adminSecretHeader) != "from-flag" {
			writeJSON(w, http.StatusUnauthorized, `{"errorKind": "Unauthorized", "message": "invalid admin secret"}`)
			return
		}
		writeJSON(w, http.StatusOK, `[]`)
	}))
	defer srv.Close()

	t.Setenv("STOREFRONT_API_URL", srv.URL)
	t.Setenv("ADMIN_SECRET", "from-env")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sales", "list", "--admin-secret", "from-flag"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "No sales recorded")
}

func TestPurgeRequiresConfirmation(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"sales", "purge"})

	assert.Error(t, cmd.Execute())
}
