package server

import (
	"TreasuryLedger/internal/ingestion"
	"TreasuryLedger/internal/query"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// binder fills an RPC request from path parameters, query string and body.
type binder[Req any] func(r *http.Request, params map[string]string, in *Req) error

// route proxies one HTTP path to a unary RPC on the client connection.
func route[Req, Resp any](mux *runtime.ServeMux, c *Client, meth, pattern, service, method string, bind binder[Req]) error {
	return mux.HandlePath(meth, pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		_, outbound := runtime.MarshalerForRequest(mux, r)
		in := new(Req)
		if err := bind(r, params, in); err != nil {
			runtime.HTTPError(r.Context(), mux, outbound, w, r, status.Error(codes.InvalidArgument, err.Error()))
			return
		}
		out, err := invoke[Req, Resp](r.Context(), c, service, method, in)
		if err != nil {
			runtime.HTTPError(r.Context(), mux, outbound, w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
}

func registerTreasuryRoutes(mux *runtime.ServeMux, c *Client) error {
	const svc = TreasuryServiceName
	return errors.Join(
		route[ingestion.CreateTreasuryJSON, InstructionResponse](mux, c, http.MethodPost, "/v1/treasuries", svc, "CreateTreasury", bodyOnly[ingestion.CreateTreasuryJSON]),
		route[ingestion.PositionJSON, InstructionResponse](mux, c, http.MethodPost, "/v1/treasuries/{treasury}/stake", svc, "Stake", bindPosition),
		route[ingestion.PositionJSON, InstructionResponse](mux, c, http.MethodPost, "/v1/treasuries/{treasury}/redeem", svc, "Redeem", bindPosition),
		route[GetTreasuryRequest, TreasuryView](mux, c, http.MethodGet, "/v1/treasuries/{address}", svc, "GetTreasury",
			func(_ *http.Request, p map[string]string, in *GetTreasuryRequest) error {
				in.Address = p["address"]
				return nil
			}),
		route[GetPositionRequest, query.PositionResponse](mux, c, http.MethodGet, "/v1/treasuries/{treasury}/positions/{user}", svc, "GetPosition",
			func(r *http.Request, p map[string]string, in *GetPositionRequest) error {
				in.Treasury, in.User = p["treasury"], p["user"]
				return queryInt(r, "as_of_sequence", &in.AsOfSequence)
			}),
		route[GetBalanceRequest, query.BalanceResponse](mux, c, http.MethodGet, "/v1/accounts/{address}/balance", svc, "GetBalance",
			func(r *http.Request, p map[string]string, in *GetBalanceRequest) error {
				in.Address = p["address"]
				return queryInt(r, "as_of_sequence", &in.AsOfSequence)
			}),
		route[ListJournalsRequest, ListJournalsResponse](mux, c, http.MethodGet, "/v1/accounts/{address}/journals", svc, "ListJournals",
			func(r *http.Request, p map[string]string, in *ListJournalsRequest) error {
				in.Address = p["address"]
				var limit int64
				if err := queryInt(r, "limit", &limit); err != nil {
					return err
				}
				in.Limit = int(limit)
				return queryInt(r, "after_sequence", &in.AfterSequence)
			}),
		route[VerifyIntegrityRequest, query.IntegrityReport](mux, c, http.MethodGet, "/v1/admin/integrity", svc, "VerifyIntegrity",
			func(*http.Request, map[string]string, *VerifyIntegrityRequest) error { return nil }),
	)
}

// Faucet routes are only registered when the faucet service is.
func registerFaucetRoutes(mux *runtime.ServeMux, c *Client) error {
	const svc = FaucetServiceName
	return errors.Join(
		route[AirdropRequest, AirdropResponse](mux, c, http.MethodPost, "/v1/faucet/airdrop", svc, "Airdrop", bodyOnly[AirdropRequest]),
		route[CreateMintRequest, AccountResponse](mux, c, http.MethodPost, "/v1/faucet/mints", svc, "CreateMint", bodyOnly[CreateMintRequest]),
		route[CreateTokenAccountRequest, AccountResponse](mux, c, http.MethodPost, "/v1/faucet/token-accounts", svc, "CreateTokenAccount", bodyOnly[CreateTokenAccountRequest]),
		route[MintToRequest, query.BalanceResponse](mux, c, http.MethodPost, "/v1/faucet/mint-to", svc, "MintTo", bodyOnly[MintToRequest]),
	)
}

func bodyOnly[Req any](r *http.Request, _ map[string]string, in *Req) error {
	return decodeBody(r, in)
}

// bindPosition takes the treasury from the path. The body may repeat it but
// cannot name a different one, since the signature covers the body.
func bindPosition(r *http.Request, p map[string]string, in *ingestion.PositionJSON) error {
	if err := decodeBody(r, in); err != nil {
		return err
	}
	switch in.Treasury {
	case "":
		in.Treasury = p["treasury"]
	case p["treasury"]:
	default:
		return fmt.Errorf("body treasury %s does not match path %s", in.Treasury, p["treasury"])
	}
	return nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, name string, dst *int64) error {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return fmt.Errorf("invalid %s %q", name, raw)
	}
	*dst = v
	return nil
}
