package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const txid = "6c9b1a5f0a0d1e6a3ab6e0c3bbf6d2f5e4c1e5f4d3c2b1a09f8e7d6c5b4a3928"
const blockHash = "0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206"

func TestPollEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/events", r.URL.Path)
		var req pollRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, int64(10), req.Height)
		require.Equal(t, blockHash, req.Hash)
		w.Write([]byte(`{"height":11,"hash":"` + blockHash + `","events":[
			{"type":"update","tx":{"direction":"deposit","txid":"` + txid + `","vout":1,"address":"bcrt1q","amount":100,"confirmations":0,"timestamp":1700000000,"conflicts":["` + txid + `"]}},
			{"type":"cancel","tx":{"direction":"deposit","txid":"` + txid + `","vout":1,"address":"bcrt1q","amount":100}}
		]}`))
	}))
	defer srv.Close()

	ev, err := NewBtcClient(srv.URL, time.Second).PollEvents(context.Background(), 10, blockHash)
	require.NoError(t, err)
	require.Equal(t, int64(11), ev.Height)
	require.Len(t, ev.Events, 2)
	require.Equal(t, BtcEventUpdate, ev.Events[0].Kind)
	require.Equal(t, uint32(1), ev.Events[0].Tx.Vout)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), ev.Events[0].Tx.Time())
	require.Equal(t, BtcEventCancel, ev.Events[1].Kind)
}

func TestPollEventsValidates(t *testing.T) {
	cases := map[string]string{
		"bad best hash": `{"height":1,"hash":"zz","events":[]}`,
		"bad txid":      `{"height":1,"hash":"` + blockHash + `","events":[{"type":"update","tx":{"txid":"nothex"}}]}`,
		"unknown type":  `{"height":1,"hash":"` + blockHash + `","events":[{"type":"burn","tx":{"txid":"` + txid + `"}}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()
			_, err := NewBtcClient(srv.URL, time.Second).PollEvents(context.Background(), 0, blockHash)
			require.Error(t, err)
		})
	}
}

func TestSendWithdrawal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var wd Withdrawal
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wd))
		switch wd.ID {
		case "ok":
			w.Write([]byte(`{"txid":"` + txid + `","fee":150,"input_addresses":["a"],"output_addresses":["b"]}`))
		case "poor":
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"reason":"insufficient hot wallet funds"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("node down"))
		}
	}))
	defer srv.Close()
	c := NewBtcClient(srv.URL+"/", time.Second)
	ctx := context.Background()

	b, err := c.SendWithdrawal(ctx, Withdrawal{ID: "ok", Address: "bcrt1qext", Amount: 1000})
	require.NoError(t, err)
	require.Equal(t, int64(150), b.Fee)
	require.Equal(t, []string{"b"}, b.OutputAddresses)

	_, err = c.SendWithdrawal(ctx, Withdrawal{ID: "poor"})
	require.True(t, IsRejected(err))
	require.Contains(t, err.Error(), "insufficient hot wallet funds")

	_, err = c.SendWithdrawal(ctx, Withdrawal{ID: "later"})
	require.Error(t, err)
	require.False(t, IsRejected(err))
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, http.StatusBadGateway, ce.Status)
}

func TestBtcSmallCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/deposit/address":
			w.Write([]byte(`{"address":"bcrt1qnew"}`))
		case "/fees":
			w.Write([]byte(`{"fee_rate":12,"block":2}`))
		case "/hotbalance":
			w.Write([]byte(`{"balance":5000}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewBtcClient(srv.URL, 0)
	ctx := context.Background()

	addr, err := c.DepositAddress(ctx)
	require.NoError(t, err)
	require.Equal(t, "bcrt1qnew", addr)

	fees, err := c.GetFees(ctx)
	require.NoError(t, err)
	require.Equal(t, Fees{FeeRate: 12, Block: 2}, *fees)

	bal, err := c.HotBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5000), bal)
}

func TestCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	_, err := NewBtcClient(srv.URL, 20*time.Millisecond).GetFees(context.Background())
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	require.True(t, strings.Contains(err.Error(), "/fees"))
}

func TestEthWallet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/deposit/address":
			w.Write([]byte(`{"address":"0x742d35cc6634c0532925a3b844bc454e4438f44e"}`))
		case "/withdraw":
			w.Write([]byte(`{"txid":"0xabc","fee":21000}`))
		}
	}))
	defer srv.Close()
	c := NewEthWalletClient(srv.URL, time.Second)
	ctx := context.Background()

	addr, err := c.DepositAddress(ctx)
	require.NoError(t, err)
	require.Equal(t, "0x742d35Cc6634C0532925a3b844Bc454e4438f44e", addr)

	_, err = c.SendWithdrawal(ctx, Withdrawal{ID: "w", Address: "nope"})
	require.True(t, IsRejected(err))

	b, err := c.SendWithdrawal(ctx, Withdrawal{ID: "w", Address: addr, Amount: 1})
	require.NoError(t, err)
	require.Equal(t, "0xabc", b.Txid)
}
