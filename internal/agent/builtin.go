package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	ErrNoExpression   = errors.New("no arithmetic expression found, try a form like '5 + 3'")
	ErrDivisionByZero = errors.New("division by zero")
)

type Echo struct {
	id string
}

func NewEcho(id string) *Echo {
	if id == "" {
		id = "echo"
	}
	return &Echo{id: id}
}

func (e *Echo) ID() string             { return e.id }
func (e *Echo) Name() string           { return fmt.Sprintf("Echo Agent (%s)", e.id) }
func (e *Echo) Description() string    { return "Repeats the received message" }
func (e *Echo) Capabilities() []string { return []string{"echo"} }

func (e *Echo) Invoke(_ context.Context, input string) (string, error) {
	return fmt.Sprintf("Echo from %s: %s", e.id, input), nil
}

var arithmeticPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([+\-*/])\s*(\d+(?:\.\d+)?)`)

// Calculator evaluates the first binary arithmetic expression in its input.
type Calculator struct {
	id string
}

func NewCalculator(id string) *Calculator {
	if id == "" {
		id = "calculator"
	}
	return &Calculator{id: id}
}

func (c *Calculator) ID() string             { return c.id }
func (c *Calculator) Name() string           { return fmt.Sprintf("Calculator Agent (%s)", c.id) }
func (c *Calculator) Description() string    { return "Performs simple arithmetic" }
func (c *Calculator) Capabilities() []string { return []string{"calculation", "math"} }

func (c *Calculator) Invoke(_ context.Context, input string) (string, error) {
	m := arithmeticPattern.FindStringSubmatch(input)
	if m == nil {
		return "", ErrNoExpression
	}
	a, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return "", fmt.Errorf("parse operand %q: %w", m[1], err)
	}
	b, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return "", fmt.Errorf("parse operand %q: %w", m[3], err)
	}

	var result float64
	switch m[2] {
	case "+":
		result = a + b
	case "-":
		result = a - b
	case "*":
		result = a * b
	case "/":
		if b == 0 {
			return "", ErrDivisionByZero
		}
		result = a / b
	}
	return fmt.Sprintf("%s %s %s = %s", formatNumber(a), m[2], formatNumber(b), formatNumber(result)), nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
