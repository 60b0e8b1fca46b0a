package main

import (
	"fmt"
	"strings"
)

// NormalizeNationalID remove a pontuação do CPF ("123.456.789-09" -> "12345678909")
func NormalizeNationalID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidNationalID valida os dois dígitos verificadores do CPF.
// Sequências de um único dígito repetido passam no cálculo e são rejeitadas à parte.
func ValidNationalID(cpf string) bool {
	if len(cpf) != 11 {
		return false
	}

	digits := make([]int, 11)
	repeated := true
	for i, r := range cpf {
		if r < '0' || r > '9' {
			return false
		}
		digits[i] = int(r - '0')
		if digits[i] != digits[0] {
			repeated = false
		}
	}
	if repeated {
		return false
	}

	return checkDigit(digits[:9]) == digits[9] && checkDigit(digits[:10]) == digits[10]
}

func checkDigit(digits []int) int {
	sum := 0
	weight := len(digits) + 1
	for _, d := range digits {
		sum += d * weight
		weight--
	}
	rest := (sum * 10) % 11
	if rest == 10 {
		return 0
	}
	return rest
}

// ValidEmail exige um "@" seguido de um domínio com ao menos um ponto interno
func ValidEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at <= 0 || strings.ContainsAny(email, " |") {
		return false
	}
	domain := email[at+1:]
	dot := strings.Index(domain, ".")
	return dot > 0 && dot < len(domain)-1
}

// ValidateBuyer normaliza e valida o comprador antes de qualquer chamada ao processador
func ValidateBuyer(buyer BuyerInfo) (BuyerInfo, error) {
	buyer.Name = strings.TrimSpace(buyer.Name)
	buyer.Email = strings.ToLower(strings.TrimSpace(buyer.Email))
	buyer.Phone = NormalizeNationalID(buyer.Phone)
	buyer.NationalID = NormalizeNationalID(buyer.NationalID)

	if !ValidNationalID(buyer.NationalID) {
		return buyer, fmt.Errorf("%w: cpf must have 11 digits and valid check digits", ErrInvalidIdentity)
	}
	if !ValidEmail(buyer.Email) {
		return buyer, fmt.Errorf("%w: %q", ErrInvalidEmail, buyer.Email)
	}
	return buyer, nil
}
