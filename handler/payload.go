package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"cart-recovery-agent/internal/domain"
	"cart-recovery-agent/internal/usecase"
)

const (
	defaultCustomerName = "Cliente"
	defaultProductName  = "Produto"
	defaultProductsText = "Produtos"
	defaultPriceText    = "Valor total"
	countryPrefix       = "55"
	maxLocalPhoneDigits = 11
)

var (
	phonePaths = []string{
		"customer.data.phone.full_number",
		"customer.phone.full_number",
		"customer.phone.mobile",
		"shipping_address.data.phone.full_number",
		"shipping_address.phone.full_number",
		"spreadsheet.data.customer_phone",
		"customer.phone",
		"phone",
	}
	namePaths  = []string{"customer.data.name", "customer.data.full_name", "customer_name", "customer.name", "name"}
	itemPaths  = []string{"items.data", "items", "products"}
	linkPaths  = []string{"checkout_url", "simulate_url", "status_url", "link"}
	pricePaths = []string{"total_price", "totalizers.total", "price"}
)

var errInvalidJSON = errors.New("handler: body is not a JSON object")

// parseCommerceEvent extracts the campaign input from a commerce webhook.
// Fields are looked up under "resource" when present, else at the top level.
func parseCommerceEvent(body string) (usecase.CampaignInput, error) {
	dec := json.NewDecoder(bytes.NewBufferString(body))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil || root == nil {
		return usecase.CampaignInput{}, errInvalidJSON
	}
	resource, ok := root["resource"].(map[string]any)
	if !ok {
		resource = root
	}

	return usecase.CampaignInput{
		Phone: normalizePhone(firstString(resource, phonePaths)),
		Event: stringValue(root["event"]),
		Data: domain.CustomerData{
			Name:     orDefault(firstString(resource, namePaths), defaultCustomerName),
			Products: productList(resource),
			Link:     firstString(resource, linkPaths),
			Price:    orDefault(firstString(resource, pricePaths), defaultPriceText),
		},
	}, nil
}

// normalizePhone keeps digits and prefixes the country code on local numbers.
func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	phone := b.String()
	if phone != "" && len(phone) <= maxLocalPhoneDigits {
		phone = countryPrefix + phone
	}
	return phone
}

func productList(resource map[string]any) string {
	var raw any
	for _, p := range itemPaths {
		if v, ok := lookup(resource, p); ok && v != nil {
			raw = v
			break
		}
	}
	if raw == nil {
		return ""
	}
	items, ok := raw.([]any)
	if !ok {
		return defaultProductsText
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case map[string]any:
			name := stringValue(it["product_name"])
			if name == "" {
				name = firstString(it, []string{"sku.data.title"})
			}
			names = append(names, orDefault(name, defaultProductName))
		default:
			names = append(names, orDefault(stringValue(it), defaultProductName))
		}
	}
	return strings.Join(names, ", ")
}

func firstString(obj map[string]any, paths []string) string {
	for _, p := range paths {
		if v, ok := lookup(obj, p); ok {
			if s := stringValue(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func lookup(obj map[string]any, path string) (any, bool) {
	var cur any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
