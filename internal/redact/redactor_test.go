package redact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRedactor(restoreFor ...string) *Redactor {
	return NewRedactor(DefaultRules(), restoreFor, nil)
}

func TestRedactRUC(t *testing.T) {
	r := newTestRedactor()
	out := r.Redact("La empresa con RUC 1790012345001 factura en Quito")
	require.NotContains(t, out, "1790012345001")
	require.Contains(t, out, "[RUC_REDACTED_1]")
}

func TestRedactInvalidProvinceUntouched(t *testing.T) {
	r := newTestRedactor()
	// Province 99 is not a valid Ecuadorian prefix.
	out := r.Redact("numero 9990012345001 no es un RUC")
	require.Contains(t, out, "9990012345001")
}

func TestRedactEmail(t *testing.T) {
	r := newTestRedactor()
	out := r.Redact("contactar a maria.lopez@acme.com.ec para detalles")
	require.NotContains(t, out, "maria.lopez@acme.com.ec")
	require.Contains(t, out, "[EMAIL_REDACTED_1]")
}

func TestRedactCreditCardLuhn(t *testing.T) {
	r := newTestRedactor()
	out := r.Redact("tarjeta 4111 1111 1111 1111 registrada")
	require.NotContains(t, out, "4111 1111 1111 1111")
	require.Contains(t, out, "[CREDIT_CARD_REDACTED_1]")

	// Fails Luhn, stays as-is.
	out = r.Redact("numero 4111 1111 1111 1112")
	require.Contains(t, out, "4111 1111 1111 1112")
}

func TestRedactPeruRUC(t *testing.T) {
	r := newTestRedactor()
	out := r.Redact("RUC peruano 20123456789 activo")
	require.NotContains(t, out, "20123456789")
	require.Contains(t, out, "[PERU_RUC_REDACTED_1]")
}

func TestRedactPhone(t *testing.T) {
	r := newTestRedactor()
	out := r.Redact("llamar al 0991234567 o al +14155552671")
	require.Contains(t, out, "[PHONE_EC_REDACTED_1]")
	require.Contains(t, out, "[PHONE_INTL_REDACTED_1]")
}

func TestPlaceholdersAreUniquePerValue(t *testing.T) {
	r := newTestRedactor()
	out := r.Redact("correos: a@x.com, b@y.com, y de nuevo a@x.com")
	require.Contains(t, out, "[EMAIL_REDACTED_1]")
	require.Contains(t, out, "[EMAIL_REDACTED_2]")
	require.Equal(t, 2, strings.Count(out, "[EMAIL_REDACTED_1]"))
	require.Equal(t, 2, r.MappedValues())
}

func TestRedactRestoreRoundTrip(t *testing.T) {
	r := newTestRedactor("search_companies")
	original := "buscar RUC 1790012345001 y correo ceo@empresa.ec"
	redacted := r.Redact(original)
	require.NotEqual(t, original, redacted)
	require.Equal(t, original, r.Restore(redacted))
}

func TestProcessToolInputAllowlisted(t *testing.T) {
	r := newTestRedactor("search_companies")
	redacted := r.Redact("RUC 1790012345001")
	placeholder := strings.TrimPrefix(redacted, "RUC ")

	input := map[string]any{
		"ruc": placeholder,
		"nested": map[string]any{
			"query": "empresa con " + placeholder,
		},
		"tags": []any{placeholder, "other"},
		"n":    42,
	}

	out := r.ProcessToolInput("search_companies", input)
	require.Equal(t, "1790012345001", out["ruc"])
	nested := out["nested"].(map[string]any)
	require.Equal(t, "empresa con 1790012345001", nested["query"])
	tags := out["tags"].([]any)
	require.Equal(t, "1790012345001", tags[0])
	require.Equal(t, 42, out["n"])

	// Input map must not be mutated.
	require.Equal(t, placeholder, input["ruc"])
}

func TestProcessToolInputNonAllowlistedPassthrough(t *testing.T) {
	r := newTestRedactor("search_companies")
	redacted := r.Redact("RUC 1790012345001")
	placeholder := strings.TrimPrefix(redacted, "RUC ")

	input := map[string]any{"ruc": placeholder}
	out := r.ProcessToolInput("web_search", input)
	require.Equal(t, placeholder, out["ruc"])
}

func TestRedactIdempotentOnPlaceholders(t *testing.T) {
	r := newTestRedactor()
	once := r.Redact("cedula 1712345678")
	twice := r.Redact(once)
	require.Equal(t, once, twice)
	require.Equal(t, 1, r.MappedValues())
}

func TestReset(t *testing.T) {
	r := newTestRedactor()
	redacted := r.Redact("correo x@y.com")
	require.Equal(t, 1, r.MappedValues())

	r.Reset()
	require.Zero(t, r.MappedValues())
	// After reset the placeholder is unknown and passes through.
	require.Equal(t, redacted, r.Restore(redacted))
}
