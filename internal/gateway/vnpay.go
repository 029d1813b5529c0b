package gateway

import (
	"context"
	"crypto/sha512"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/escrow-settlement/pkg/config"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

const (
	vnpVersion        = "2.1.0"
	vnpTimeLayout     = "20060102150405"
	vnpExpireAfter    = 15 * time.Minute
	vnpSuccessCode    = "00"
	vnpSecureHashKey  = "vnp_SecureHash"
	vnpHashTypeKey    = "vnp_SecureHashType"
	vnpDefaultLocale  = "vn"
	vnpDefaultOrderTp = "other"
)

// VNPay signs requests with HMAC-SHA512 over the sorted, url-encoded query.
type VNPay struct {
	cfg config.VNPayConfig
	loc *time.Location
}

// NewVNPay builds the VNPay adapter. loc is the merchant timezone used for
// vnp_CreateDate.
func NewVNPay(cfg config.VNPayConfig, loc *time.Location) (*VNPay, error) {
	if strings.TrimSpace(cfg.TmnCode) == "" || strings.TrimSpace(cfg.HashSecret) == "" {
		return nil, fmt.Errorf("vnpay tmn code and hash secret are required")
	}
	if strings.TrimSpace(cfg.PayURL) == "" {
		return nil, fmt.Errorf("vnpay pay url is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &VNPay{cfg: cfg, loc: loc}, nil
}

func (v *VNPay) Method() enums.PaymentMethod { return enums.PaymentMethodVNPay }

func (v *VNPay) BuildPaymentURL(_ context.Context, req PaymentRequest) (string, error) {
	if req.Amount <= 0 {
		return "", fmt.Errorf("vnpay amount must be positive")
	}
	created := req.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	info := req.OrderInfo
	if info == "" {
		info = "Thanh toan don hang " + req.PaymentID.String()
	}
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := map[string]string{
		"vnp_Version":    vnpVersion,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    v.cfg.TmnCode,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     req.PaymentID.String(),
		"vnp_OrderInfo":  info,
		"vnp_OrderType":  vnpDefaultOrderTp,
		"vnp_Locale":     vnpDefaultLocale,
		"vnp_ReturnUrl":  v.cfg.ReturnURL,
		"vnp_IpAddr":     ip,
		"vnp_CreateDate": created.In(v.loc).Format(vnpTimeLayout),
		"vnp_ExpireDate": created.Add(vnpExpireAfter).In(v.loc).Format(vnpTimeLayout),
	}
	query := vnpCanonicalQuery(params)
	hash := sign(sha512.New, v.cfg.HashSecret, query)
	return v.cfg.PayURL + "?" + query + "&" + vnpSecureHashKey + "=" + hash, nil
}

func (v *VNPay) ParseCallback(fields map[string]string) (*Callback, error) {
	signature := fields[vnpSecureHashKey]
	if signature == "" {
		return nil, errInvalidSignature(enums.PaymentMethodVNPay)
	}
	signed := make(map[string]string, len(fields))
	for k, val := range fields {
		if k == vnpSecureHashKey || k == vnpHashTypeKey || !strings.HasPrefix(k, "vnp_") {
			continue
		}
		signed[k] = val
	}
	if !validSignature(sha512.New, v.cfg.HashSecret, vnpCanonicalQuery(signed), signature) {
		return nil, errInvalidSignature(enums.PaymentMethodVNPay)
	}

	paymentID, err := parsePaymentRef(enums.PaymentMethodVNPay, fields["vnp_TxnRef"])
	if err != nil {
		return nil, err
	}
	rawAmount, err := strconv.ParseInt(fields["vnp_Amount"], 10, 64)
	if err != nil || rawAmount < 0 {
		return nil, errMalformed(enums.PaymentMethodVNPay, "invalid vnp_Amount")
	}

	code := fields["vnp_ResponseCode"]
	status, hasStatus := fields["vnp_TransactionStatus"]
	succeeded := code == vnpSuccessCode && (!hasStatus || status == "" || status == vnpSuccessCode)

	txnID := fields["vnp_TransactionNo"]
	if txnID == "" || txnID == "0" {
		txnID = "VNPAY-" + paymentID.String()
	}
	return &Callback{
		Method:        enums.PaymentMethodVNPay,
		PaymentID:     paymentID,
		Amount:        rawAmount / 100,
		TransactionID: txnID,
		ResponseCode:  code,
		Succeeded:     succeeded,
	}, nil
}

// vnpCanonicalQuery is the sorted key=value string VNPay hashes. Empty values
// are left out.
func vnpCanonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, val := range params {
		if val == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}
