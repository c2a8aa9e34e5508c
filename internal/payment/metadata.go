package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"boatmarket/internal/models"
)

// Checkout metadata keys.
const (
	MetaUserID         = "user_id"
	MetaListingID      = "listing_id"
	MetaModel          = "boat_model"
	MetaPrice          = "boat_price"
	MetaCountry        = "boat_country"
	MetaDescription    = "boat_description"
	MetaCurrency       = "boat_currency"
	MetaSpecifications = "boat_specifications"
	MetaVATPaid        = "boat_vat_paid"
	MetaStagedKeys     = "temp_image_keys"
)

const (
	MaxMetadataValueLen = 500
	MaxMetadataKeys     = 50

	chunkSeparator = "__"
	partsSuffix    = "__parts"
)

var ErrMetadataTooLarge = errors.New("checkout metadata exceeds provider limits")

// CheckoutMetadata is everything a checkout carries through the provider so
// the webhook can materialise the listing.
type CheckoutMetadata struct {
	UserID     string
	ListingID  string
	Draft      *models.ListingDraft
	StagedKeys []string
}

// EncodeMetadata flattens m into provider metadata. Values longer than
// MaxMetadataValueLen are split into "<key>__<n>" chunks plus a
// "<key>__parts" counter.
func EncodeMetadata(m CheckoutMetadata) (map[string]string, error) {
	fields := map[string]string{MetaUserID: m.UserID}
	if m.ListingID != "" {
		fields[MetaListingID] = m.ListingID
	}

	if m.Draft != nil {
		specs, err := json.Marshal(nonNilStrings(m.Draft.Specifications))
		if err != nil {
			return nil, fmt.Errorf("encode specifications: %w", err)
		}
		fields[MetaModel] = m.Draft.Model
		fields[MetaPrice] = strconv.FormatFloat(m.Draft.Price, 'f', -1, 64)
		fields[MetaCountry] = m.Draft.Country
		fields[MetaDescription] = m.Draft.Description
		fields[MetaCurrency] = m.Draft.Currency
		fields[MetaSpecifications] = string(specs)
		fields[MetaVATPaid] = strconv.FormatBool(m.Draft.VATPaid)
	}

	if len(m.StagedKeys) > 0 {
		keys, err := json.Marshal(m.StagedKeys)
		if err != nil {
			return nil, fmt.Errorf("encode staged keys: %w", err)
		}
		fields[MetaStagedKeys] = string(keys)
	}

	out := make(map[string]string, len(fields))
	for key, value := range fields {
		if len(value) <= MaxMetadataValueLen {
			out[key] = value
			continue
		}
		chunks := splitValue(value, MaxMetadataValueLen)
		for i, chunk := range chunks {
			out[key+chunkSeparator+strconv.Itoa(i)] = chunk
		}
		out[key+partsSuffix] = strconv.Itoa(len(chunks))
	}

	if len(out) > MaxMetadataKeys {
		return nil, fmt.Errorf("%w: %d keys", ErrMetadataTooLarge, len(out))
	}
	return out, nil
}

// DecodeMetadata reverses EncodeMetadata. Draft is nil when the metadata
// carries no boat fields.
func DecodeMetadata(meta map[string]string) (CheckoutMetadata, error) {
	var out CheckoutMetadata

	get := func(key string) (string, bool, error) {
		if v, ok := meta[key]; ok {
			return v, true, nil
		}
		raw, ok := meta[key+partsSuffix]
		if !ok {
			return "", false, nil
		}
		parts, err := strconv.Atoi(raw)
		if err != nil || parts < 0 {
			return "", false, fmt.Errorf("invalid %s%s: %q", key, partsSuffix, raw)
		}
		var b strings.Builder
		for i := 0; i < parts; i++ {
			chunk, ok := meta[key+chunkSeparator+strconv.Itoa(i)]
			if !ok {
				return "", false, fmt.Errorf("missing chunk %d of %s", i, key)
			}
			b.WriteString(chunk)
		}
		return b.String(), true, nil
	}

	var err error
	if out.UserID, _, err = get(MetaUserID); err != nil {
		return out, err
	}
	if out.ListingID, _, err = get(MetaListingID); err != nil {
		return out, err
	}

	if raw, ok, err := get(MetaStagedKeys); err != nil {
		return out, err
	} else if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &out.StagedKeys); err != nil {
			return out, fmt.Errorf("decode staged keys: %w", err)
		}
	}

	model, hasDraft, err := get(MetaModel)
	if err != nil || !hasDraft {
		return out, err
	}

	draft := models.ListingDraft{Model: model}
	if raw, ok, err := get(MetaPrice); err != nil {
		return out, err
	} else if ok && raw != "" {
		if draft.Price, err = strconv.ParseFloat(raw, 64); err != nil {
			return out, fmt.Errorf("decode price: %w", err)
		}
	}
	if draft.Country, _, err = get(MetaCountry); err != nil {
		return out, err
	}
	if draft.Description, _, err = get(MetaDescription); err != nil {
		return out, err
	}
	if draft.Currency, _, err = get(MetaCurrency); err != nil {
		return out, err
	}
	if raw, ok, err := get(MetaSpecifications); err != nil {
		return out, err
	} else if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &draft.Specifications); err != nil {
			return out, fmt.Errorf("decode specifications: %w", err)
		}
	}
	if raw, ok, err := get(MetaVATPaid); err != nil {
		return out, err
	} else if ok {
		draft.VATPaid = raw == "true"
	}

	out.Draft = &draft
	return out, nil
}

// splitValue cuts s into pieces of at most limit bytes without splitting a
// UTF-8 sequence.
func splitValue(s string, limit int) []string {
	var chunks []string
	for len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	return append(chunks, s)
}

// MetadataKeys lists the keys of meta in order, for logging.
func MetadataKeys(meta map[string]string) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
