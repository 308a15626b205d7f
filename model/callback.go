/*
Copyright 2024 Bingwa Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	ItemAmount          = "Amount"
	ItemReceiptNumber   = "MpesaReceiptNumber"
	ItemTransactionDate = "TransactionDate"
	ItemPhoneNumber     = "PhoneNumber"

	CallbackDateLayout = "20060102150405"
)

// EAT is East Africa Time, the zone Daraja reports transaction dates in.
var EAT = time.FixedZone("EAT", 3*60*60)

// CallbackNotification is either a StkCallback or a MalformedCallback.
type CallbackNotification interface {
	isCallbackNotification()
}

type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

// StkCallback is a well formed M-Pesa Express result notification.
type StkCallback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Items             []CallbackItem
	Raw               json.RawMessage
}

// MalformedCallback carries a payload that could not be read as a result notification.
type MalformedCallback struct {
	Raw    json.RawMessage
	Reason string
}

func (StkCallback) isCallbackNotification()       {}
func (MalformedCallback) isCallbackNotification() {}

type callbackEnvelope struct {
	Body *struct {
		StkCallback *struct {
			MerchantRequestID string          `json:"MerchantRequestID"`
			CheckoutRequestID string          `json:"CheckoutRequestID"`
			ResultCode        json.RawMessage `json:"ResultCode"`
			ResultDesc        string          `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []CallbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback reads a raw callback body. It never fails: anything that is not
// a usable result notification comes back as a MalformedCallback.
func ParseCallback(raw []byte) CallbackNotification {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var env callbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return MalformedCallback{Raw: raw, Reason: fmt.Sprintf("invalid json: %v", err)}
	}
	if env.Body == nil || env.Body.StkCallback == nil {
		return MalformedCallback{Raw: raw, Reason: "missing Body.stkCallback"}
	}

	cb := env.Body.StkCallback
	if strings.TrimSpace(cb.CheckoutRequestID) == "" {
		return MalformedCallback{Raw: raw, Reason: "missing CheckoutRequestID"}
	}
	code, err := parseResultCode(cb.ResultCode)
	if err != nil {
		return MalformedCallback{Raw: raw, Reason: err.Error()}
	}

	parsed := StkCallback{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        code,
		ResultDesc:        cb.ResultDesc,
		Raw:               raw,
	}
	if cb.CallbackMetadata != nil {
		parsed.Items = cb.CallbackMetadata.Item
	}
	return parsed
}

// parseResultCode accepts both 0 and "0".
func parseResultCode(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("missing ResultCode")
	}
	s := strings.Trim(string(raw), `"`)
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid ResultCode %s", string(raw))
	}
	return code, nil
}

// Succeeded reports whether the customer completed the payment.
func (c StkCallback) Succeeded() bool {
	return c.ResultCode == 0
}

// Item returns the named metadata value as a string. Numbers keep their literal form.
func (c StkCallback) Item(name string) (string, bool) {
	for _, item := range c.Items {
		if !strings.EqualFold(item.Name, name) || item.Value == nil {
			continue
		}
		switch v := item.Value.(type) {
		case string:
			return v, true
		case json.Number:
			return v.String(), true
		default:
			return fmt.Sprint(v), true
		}
	}
	return "", false
}

func (c StkCallback) ReceiptNumber() *string {
	if v, ok := c.Item(ItemReceiptNumber); ok && v != "" {
		return &v
	}
	return nil
}

func (c StkCallback) PhoneNumber() *string {
	if v, ok := c.Item(ItemPhoneNumber); ok && v != "" {
		return &v
	}
	return nil
}

// TransactionDate parses the yyyyMMddHHmmss value Daraja sends.
func (c StkCallback) TransactionDate() *time.Time {
	v, ok := c.Item(ItemTransactionDate)
	if !ok {
		return nil
	}
	t, err := time.ParseInLocation(CallbackDateLayout, v, EAT)
	if err != nil {
		return nil
	}
	return &t
}

// CallbackAck is the body returned to the gateway for every callback.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func AcceptedCallbackAck() CallbackAck {
	return CallbackAck{ResultCode: 0, ResultDesc: "Success"}
}

// BuildCallbackPayload renders a callback body in the shape Daraja posts.
// Used to simulate callbacks in the sandbox.
func BuildCallbackPayload(merchantID, checkoutID string, resultCode int, resultDesc string, items []CallbackItem) ([]byte, error) {
	cb := map[string]interface{}{
		"MerchantRequestID": merchantID,
		"CheckoutRequestID": checkoutID,
		"ResultCode":        resultCode,
		"ResultDesc":        resultDesc,
	}
	if len(items) > 0 {
		cb["CallbackMetadata"] = map[string]interface{}{"Item": items}
	}
	return json.Marshal(map[string]interface{}{
		"Body": map[string]interface{}{"stkCallback": cb},
	})
}
