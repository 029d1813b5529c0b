package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/pkg/config"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

const zaloSuccessCode = "1"

// ZaloPay creates v2 orders signed with key1 and verifies callbacks signed
// with key2.
type ZaloPay struct {
	cfg    config.ZaloPayConfig
	client HTTPDoer
	loc    *time.Location
}

type zaloCreateResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	OrderURL      string `json:"order_url"`
}

// NewZaloPay builds the ZaloPay adapter. The app_trans_id date prefix uses loc.
func NewZaloPay(cfg config.ZaloPayConfig, client HTTPDoer, loc *time.Location) (*ZaloPay, error) {
	if cfg.AppID == "" || cfg.Key1 == "" || cfg.Key2 == "" {
		return nil, fmt.Errorf("zalopay app id, key1 and key2 are required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("zalopay endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ZaloPay{cfg: cfg, client: client, loc: loc}, nil
}

func (z *ZaloPay) Method() enums.PaymentMethod { return enums.PaymentMethodZaloPay }

// AppTransID renders the yymmdd_<payment hex> reference ZaloPay requires.
func (z *ZaloPay) AppTransID(paymentID uuid.UUID, at time.Time) string {
	return at.In(z.loc).Format("060102") + "_" + strings.ReplaceAll(paymentID.String(), "-", "")
}

func (z *ZaloPay) BuildPaymentURL(ctx context.Context, req PaymentRequest) (string, error) {
	if req.Amount <= 0 {
		return "", fmt.Errorf("zalopay amount must be positive")
	}
	created := req.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	embed, err := json.Marshal(map[string]string{"redirecturl": z.cfg.RedirectURL})
	if err != nil {
		return "", fmt.Errorf("encode embed data: %w", err)
	}
	appUser := req.BuyerID.String()
	if req.BuyerID == uuid.Nil {
		appUser = "buyer"
	}
	description := req.OrderInfo
	if description == "" {
		description = "Thanh toan don hang " + req.PaymentID.String()
	}

	form := url.Values{}
	form.Set("app_id", z.cfg.AppID)
	form.Set("app_user", appUser)
	form.Set("app_trans_id", z.AppTransID(req.PaymentID, created))
	form.Set("app_time", strconv.FormatInt(created.UnixMilli(), 10))
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("item", "[]")
	form.Set("embed_data", string(embed))
	form.Set("description", description)
	form.Set("bank_code", "")
	form.Set("callback_url", z.cfg.CallbackURL)
	form.Set("mac", sign(sha256.New, z.cfg.Key1, strings.Join([]string{
		form.Get("app_id"),
		form.Get("app_trans_id"),
		form.Get("app_user"),
		form.Get("amount"),
		form.Get("app_time"),
		form.Get("embed_data"),
		form.Get("item"),
	}, "|")))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, z.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build zalopay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := z.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("zalopay create order: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read zalopay response: %w", err)
	}
	var out zaloCreateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode zalopay response (status %d): %w", resp.StatusCode, err)
	}
	if out.ReturnCode != 1 || out.OrderURL == "" {
		return "", fmt.Errorf("zalopay rejected order: code=%d message=%s", out.ReturnCode, out.ReturnMessage)
	}
	return out.OrderURL, nil
}

func (z *ZaloPay) ParseCallback(fields map[string]string) (*Callback, error) {
	data := strings.Join([]string{
		fields["app_id"],
		fields["app_trans_id"],
		fields["zp_trans_id"],
		fields["amount"],
		fields["return_code"],
	}, "|")
	if !validSignature(sha256.New, z.cfg.Key2, data, fields["mac"]) {
		return nil, errInvalidSignature(enums.PaymentMethodZaloPay)
	}

	ref := fields["app_trans_id"]
	idx := strings.IndexByte(ref, '_')
	if idx < 0 {
		return nil, errMalformed(enums.PaymentMethodZaloPay, "invalid app_trans_id")
	}
	paymentID, err := parsePaymentRef(enums.PaymentMethodZaloPay, ref[idx+1:])
	if err != nil {
		return nil, err
	}
	amount, err := strconv.ParseInt(fields["amount"], 10, 64)
	if err != nil || amount < 0 {
		return nil, errMalformed(enums.PaymentMethodZaloPay, "invalid amount")
	}
	txnID := fields["zp_trans_id"]
	if txnID == "" {
		txnID = "ZALOPAY-" + paymentID.String()
	}
	code := fields["return_code"]
	return &Callback{
		Method:        enums.PaymentMethodZaloPay,
		PaymentID:     paymentID,
		Amount:        amount,
		TransactionID: txnID,
		ResponseCode:  code,
		Succeeded:     code == zaloSuccessCode,
	}, nil
}
