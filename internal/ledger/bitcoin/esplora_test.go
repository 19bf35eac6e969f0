package bitcoin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEsplora(t *testing.T) (*EsploraClient, *[]string) {
	t.Helper()
	var posted []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/address/tb1qexample/utxo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"txid":"aa","vout":0,"value":1500,"status":{"confirmed":true,"block_height":100}},
			{"txid":"bb","vout":1,"value":700,"status":{"confirmed":false}}
		]`)
	})
	mux.HandleFunc("/api/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "105\n")
	})
	mux.HandleFunc("/api/fee-estimates", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"2": 12.2, "6": 0.4}`)
	})
	mux.HandleFunc("/api/tx", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) == "bad" {
			http.Error(w, "sendrawtransaction RPC error", http.StatusBadRequest)
			return
		}
		posted = append(posted, string(body))
		_, _ = io.WriteString(w, "deadbeef")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewEsploraClient(srv.URL+"/api/", srv.Client()), &posted
}

func TestEsploraUnspents(t *testing.T) {
	client, _ := newEsplora(t)

	unspents, err := client.Unspents(context.Background(), "tb1qexample")
	require.NoError(t, err)
	require.Len(t, unspents, 2)
	assert.Equal(t, int64(1500), unspents[0].Amount)
	assert.Equal(t, 6, unspents[0].Confirmations)
	assert.Equal(t, uint32(1), unspents[1].Vout)
	assert.Zero(t, unspents[1].Confirmations)
}

func TestEsploraFeeRate(t *testing.T) {
	client, _ := newEsplora(t)

	fast, err := client.FeeRate(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int64(13), fast)

	slow, err := client.FeeRate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), slow)
}

func TestEsploraBroadcast(t *testing.T) {
	client, posted := newEsplora(t)

	txid, err := client.Broadcast(context.Background(), "0200")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", txid)
	assert.Equal(t, []string{"0200"}, *posted)

	_, err = client.Broadcast(context.Background(), "bad")
	assert.ErrorContains(t, err, "status 400")
}

func TestEsploraUnknownAddress(t *testing.T) {
	client, _ := newEsplora(t)

	_, err := client.Unspents(context.Background(), "tb1qmissing")
	assert.Error(t, err)
}
