package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/pkg/config"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

const (
	momoRequestType = "captureWallet"
	momoSuccessCode = "0"
)

// Momo creates captureWallet payments and verifies IPN/redirect signatures
// with HMAC-SHA256.
type Momo struct {
	cfg    config.MomoConfig
	client HTTPDoer
}

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoCreateResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
}

// NewMomo builds the Momo adapter. client defaults to http.DefaultClient.
func NewMomo(cfg config.MomoConfig, client HTTPDoer) (*Momo, error) {
	if cfg.PartnerCode == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("momo partner code, access key and secret key are required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("momo endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Momo{cfg: cfg, client: client}, nil
}

func (m *Momo) Method() enums.PaymentMethod { return enums.PaymentMethodMomo }

func (m *Momo) BuildPaymentURL(ctx context.Context, req PaymentRequest) (string, error) {
	if req.Amount <= 0 {
		return "", fmt.Errorf("momo amount must be positive")
	}
	info := req.OrderInfo
	if info == "" {
		info = "Thanh toan don hang " + req.PaymentID.String()
	}
	body := momoCreateRequest{
		PartnerCode: m.cfg.PartnerCode,
		AccessKey:   m.cfg.AccessKey,
		RequestID:   uuid.NewString(),
		Amount:      req.Amount,
		OrderID:     req.PaymentID.String(),
		OrderInfo:   info,
		RedirectURL: m.cfg.RedirectURL,
		IPNURL:      m.cfg.IPNURL,
		RequestType: momoRequestType,
		Lang:        "vi",
	}
	body.Signature = sign(sha256.New, m.cfg.SecretKey, momoCreateRaw(body))

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode momo request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build momo request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("momo create payment: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read momo response: %w", err)
	}

	var out momoCreateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode momo response (status %d): %w", resp.StatusCode, err)
	}
	if out.ResultCode != 0 || out.PayURL == "" {
		return "", fmt.Errorf("momo rejected payment: code=%d message=%s", out.ResultCode, out.Message)
	}
	return out.PayURL, nil
}

func (m *Momo) ParseCallback(fields map[string]string) (*Callback, error) {
	raw := momoCallbackRaw(m.cfg.AccessKey, fields)
	if !validSignature(sha256.New, m.cfg.SecretKey, raw, fields["signature"]) {
		return nil, errInvalidSignature(enums.PaymentMethodMomo)
	}
	paymentID, err := parsePaymentRef(enums.PaymentMethodMomo, fields["orderId"])
	if err != nil {
		return nil, err
	}
	amount, err := strconv.ParseInt(fields["amount"], 10, 64)
	if err != nil || amount < 0 {
		return nil, errMalformed(enums.PaymentMethodMomo, "invalid amount")
	}
	txnID := strings.TrimSpace(fields["transId"])
	if txnID == "" || txnID == "0" {
		txnID = "MOMO-" + paymentID.String()
	}
	code := fields["resultCode"]
	return &Callback{
		Method:        enums.PaymentMethodMomo,
		PaymentID:     paymentID,
		Amount:        amount,
		TransactionID: txnID,
		ResponseCode:  code,
		Succeeded:     code == momoSuccessCode,
	}, nil
}

func momoCreateRaw(r momoCreateRequest) string {
	return "accessKey=" + r.AccessKey +
		"&amount=" + strconv.FormatInt(r.Amount, 10) +
		"&extraData=" + r.ExtraData +
		"&ipnUrl=" + r.IPNURL +
		"&orderId=" + r.OrderID +
		"&orderInfo=" + r.OrderInfo +
		"&partnerCode=" + r.PartnerCode +
		"&redirectUrl=" + r.RedirectURL +
		"&requestId=" + r.RequestID +
		"&requestType=" + r.RequestType
}

var momoCallbackKeys = []string{
	"amount", "extraData", "message", "orderId", "orderInfo", "orderType",
	"partnerCode", "payType", "requestId", "responseTime", "resultCode", "transId",
}

func momoCallbackRaw(accessKey string, fields map[string]string) string {
	var b strings.Builder
	b.WriteString("accessKey=")
	b.WriteString(accessKey)
	for _, k := range momoCallbackKeys {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}
