package etherscan

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethhab/whaletrace/internal/domain"
)

const (
	scanWallet = "0x05c1882212a41aa8d7df5b70eebe03d9319345b7"
	scanRouter = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", time.Second)
}

func respond(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func TestAccountTransactionsParsesRecords(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("action"); got != "txlist" {
			t.Errorf("action = %q, want txlist", got)
		}
		respond(w, `{"status":"1","message":"OK","result":[
			{"hash":"0xABC","from":"0xAA","to":"0xBB","blockNumber":"19000100",
			 "timeStamp":"1709294400","value":"2000000000000000000",
			 "gasUsed":"21000","gasPrice":"50000000000","isError":"0"},
			{"hash":"0xdef","from":"0xaa","to":"0xbb","blockNumber":"19000101",
			 "timeStamp":"1709294460","value":"0","gasUsed":"21000",
			 "gasPrice":"50000000000","isError":"1"}
		]}`)
	})

	txs, err := c.AccountTransactions(context.Background(), scanWallet, 0)
	if err != nil {
		t.Fatalf("AccountTransactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("txs = %d, want 2", len(txs))
	}
	if txs[0].Hash != "0xabc" {
		t.Errorf("hash = %q, want lowercased 0xabc", txs[0].Hash)
	}
	if math.Abs(txs[0].ValueETH-2) > 1e-9 {
		t.Errorf("value = %v ETH, want 2", txs[0].ValueETH)
	}
	if math.Abs(txs[0].GasETH-0.00105) > 1e-9 {
		t.Errorf("gas = %v ETH, want 0.00105", txs[0].GasETH)
	}
	if txs[0].Failed || !txs[1].Failed {
		t.Errorf("failed flags = %v/%v, want false/true", txs[0].Failed, txs[1].Failed)
	}
}

func TestAccountTransactionsEmptyResultNotError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		respond(w, `{"status":"0","message":"No transactions found","result":[]}`)
	})

	txs, err := c.AccountTransactions(context.Background(), scanWallet, 0)
	if err != nil {
		t.Fatalf("AccountTransactions: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("txs = %d, want 0", len(txs))
	}
}

func TestCallFailuresCarryLookupFailure(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "gateway timeout", http.StatusBadGateway)
		})
		_, err := c.AccountTransactions(context.Background(), scanWallet, 0)
		if !errors.Is(err, domain.ErrLookupFailure) {
			t.Errorf("err = %v, want ErrLookupFailure", err)
		}
	})

	t.Run("api error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			respond(w, `{"status":"0","message":"Max rate limit reached","result":null}`)
		})
		_, err := c.RouterTraffic(context.Background(), scanRouter, time.Time{}, 0)
		if !errors.Is(err, domain.ErrLookupFailure) {
			t.Errorf("err = %v, want ErrLookupFailure", err)
		}
	})
}

func TestRouterTrafficFiltersRecords(t *testing.T) {
	cutoff := time.Unix(1709294400, 0).UTC()
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		respond(w, `{"status":"1","message":"OK","result":[
			{"hash":"0x01","from":"`+scanWallet+`","to":"`+scanRouter+`","blockNumber":"19000100",
			 "timeStamp":"1709294400","value":"0","gasUsed":"150000","gasPrice":"50000000000","isError":"0"},
			{"hash":"0x02","from":"`+scanWallet+`","to":"`+scanRouter+`","blockNumber":"19000000",
			 "timeStamp":"1709208000","value":"0","gasUsed":"150000","gasPrice":"50000000000","isError":"0"},
			{"hash":"0x03","from":"`+scanWallet+`","to":"`+scanRouter+`","blockNumber":"19000101",
			 "timeStamp":"1709294460","value":"0","gasUsed":"150000","gasPrice":"50000000000","isError":"1"}
		]}`)
	})

	out, err := c.RouterTraffic(context.Background(), scanRouter, cutoff, 0)
	if err != nil {
		t.Fatalf("RouterTraffic: %v", err)
	}
	// Pre-cutoff and failed transactions drop out.
	if len(out) != 1 {
		t.Fatalf("interactions = %d, want 1", len(out))
	}
	if out[0].TxHash != "0x01" || out[0].Address != scanWallet {
		t.Errorf("interaction = %+v", out[0])
	}
}

func TestIsContractProxyEnvelope(t *testing.T) {
	cases := []struct {
		name string
		code string
		want bool
	}{
		{"deployed code", `"0x6080604052"`, true},
		{"empty account", `"0x"`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("module"); got != "proxy" {
					t.Errorf("module = %q, want proxy", got)
				}
				respond(w, `{"jsonrpc":"2.0","id":1,"result":`+tc.code+`}`)
			})
			got, err := c.IsContract(context.Background(), scanWallet)
			if err != nil {
				t.Fatalf("IsContract: %v", err)
			}
			if got != tc.want {
				t.Errorf("IsContract = %v, want %v", got, tc.want)
			}
		})
	}
}
