package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPrimaryIsFirstClause(t *testing.T) {
	ext := Extract("Ana María Gómez, es para mi mamá", StepName)
	assert.Equal(t, "Ana María Gómez", ext.Primary)
	assert.Equal(t, "mi mamá", ext.Fields["giftee"])
}

func TestExtractVolunteersDateAndSlot(t *testing.T) {
	ext := Extract("Carlos Pérez, para el 15/09/2026, en la tarde por favor", StepName)
	assert.Equal(t, "Carlos Pérez", ext.Primary)
	assert.Equal(t, "15/09/2026", ext.Fields["date"])
	assert.Equal(t, "tarde", ext.Fields["timeSlot"])
}

func TestExtractPrefersClauseMatchingStep(t *testing.T) {
	ext := Extract("sería genial, el 20/09/2026 me sirve", StepDate)
	assert.Equal(t, "el 20/09/2026 me sirve", ext.Primary)

	ext = Extract("puede ser cualquier día, mejor en la noche", StepTimeSlot)
	assert.Equal(t, "mejor en la noche", ext.Primary)
}

func TestExtractAddressClause(t *testing.T) {
	ext := Extract("gracias, Calle 10 # 5-20 apto 301", StepAddress)
	assert.Contains(t, ext.Primary, "Calle 10")
}

func TestExtractLongFormDate(t *testing.T) {
	ext := Extract("Lucía, el 15 de septiembre estaría bien", StepName)
	assert.Equal(t, "Lucía", ext.Primary)
	assert.Equal(t, "15 de septiembre", ext.Fields["date"])
}

func TestExtractNormalizesSlotAccents(t *testing.T) {
	ext := Extract("Pedro, en la manana", StepName)
	assert.Equal(t, "mañana", ext.Fields["timeSlot"])
}

func TestExtractVolunteeredName(t *testing.T) {
	ext := Extract("Me llamo Ana García, quiero agendar para el 15/09/2026", "")
	assert.Equal(t, "Ana García", ext.Fields["name"])
	assert.Equal(t, "15/09/2026", ext.Fields["date"])
}

func TestExtractPhoneNumber(t *testing.T) {
	ext := Extract("mi número es 3001234567 por si acaso", StepName)
	assert.Equal(t, "3001234567", ext.Fields["phone"])
}

func TestExtractAddressByNumberAndCity(t *testing.T) {
	ext := Extract("Lucía, es el #5-20 en Bogotá", StepName)
	assert.Equal(t, "es el #5-20 en Bogotá", ext.Fields["address"])
	assert.Empty(t, ext.Fields["date"], "a house number is not a date")

	// A bare number pair without a city is not an address.
	ext = Extract("Lucía, quiero 2 o 3 rosas", StepName)
	assert.Empty(t, ext.Fields["address"])
}

func TestExtractAddressClausePreferredWithoutKeyword(t *testing.T) {
	ext := Extract("gracias, #5-20 en Bogotá", StepAddress)
	assert.Contains(t, ext.Primary, "#5-20")
}

func TestExtractEmptyText(t *testing.T) {
	ext := Extract("   ", StepName)
	assert.Empty(t, ext.Primary)
	assert.Empty(t, ext.Fields)
}
