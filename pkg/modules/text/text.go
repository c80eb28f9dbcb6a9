// Package text provides built-in module kinds for text manipulation.
package text

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/wehubfusion/Talos/pkg/module"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Case modes accepted by the text.case module.
const (
	ModeUpper      = "upper"
	ModeLower      = "lower"
	ModeTitle      = "title"
	ModeCapitalize = "capitalize"
)

// Builtins returns the text module kinds.
func Builtins() []*module.Info {
	return []*module.Info{
		Case(),
		Concat(),
		Split(),
		Length(),
		Normalize(),
	}
}

func Case() *module.Info {
	return module.MustInfo("text.case", module.FuncFactory(runCase),
		module.WithLabel("Change Case"),
		module.WithDescription("Converts text to upper, lower, title or capitalized case using language-aware rules."),
		module.WithMenuPath(module.ParseMenuPath("Text > Change Case").
			WithAccelerator(module.MustParseAccelerator("ctrl shift C"))),
		module.WithInputs(
			module.InputOf[string]("text", module.Required()),
			module.InputOf[string]("mode", module.WithDefault(ModeTitle),
				module.WithItemDescription("upper, lower, title or capitalize")),
			module.InputOf[string]("language", module.WithDefault("und"),
				module.WithItemDescription("BCP 47 language tag")),
		),
		module.WithOutputs(module.OutputOf[string]("result")),
	)
}

func runCase(_ context.Context, m module.Module) error {
	text, _ := m.Input("text").(string)
	mode, _ := m.Input("mode").(string)
	lang, _ := m.Input("language").(string)

	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("invalid language %q: %w", lang, err)
	}

	var result string
	switch strings.ToLower(mode) {
	case ModeUpper:
		result = cases.Upper(tag).String(text)
	case ModeLower:
		result = cases.Lower(tag).String(text)
	case ModeTitle, "":
		result = cases.Title(tag).String(text)
	case ModeCapitalize:
		if text != "" {
			r, size := utf8.DecodeRuneInString(text)
			result = cases.Upper(tag).String(string(r)) + text[size:]
		}
	default:
		return fmt.Errorf("unknown case mode %q", mode)
	}
	m.SetOutput("result", result)
	return nil
}

func Concat() *module.Info {
	return module.MustInfo("text.concat", module.FuncFactory(func(_ context.Context, m module.Module) error {
		parts, _ := m.Input("parts").([]string)
		sep, _ := m.Input("separator").(string)
		m.SetOutput("result", strings.Join(parts, sep))
		return nil
	}),
		module.WithLabel("Concatenate"),
		module.WithMenuPath(module.ParseMenuPath("Text > Concatenate")),
		module.WithInputs(
			module.InputOf[[]string]("parts", module.Required()),
			module.InputOf[string]("separator", module.WithDefault("")),
		),
		module.WithOutputs(module.OutputOf[string]("result")),
	)
}

func Split() *module.Info {
	return module.MustInfo("text.split", module.FuncFactory(func(_ context.Context, m module.Module) error {
		text, _ := m.Input("text").(string)
		delim, _ := m.Input("delimiter").(string)
		if delim == "" {
			m.SetOutput("parts", strings.Fields(text))
			return nil
		}
		m.SetOutput("parts", strings.Split(text, delim))
		return nil
	}),
		module.WithLabel("Split"),
		module.WithMenuPath(module.ParseMenuPath("Text > Split")),
		module.WithInputs(
			module.InputOf[string]("text", module.Required()),
			module.InputOf[string]("delimiter", module.WithDefault(""),
				module.WithItemDescription("empty splits on white space")),
		),
		module.WithOutputs(module.OutputOf[[]string]("parts")),
	)
}

func Length() *module.Info {
	return module.MustInfo("text.length", module.FuncFactory(func(_ context.Context, m module.Module) error {
		text, _ := m.Input("text").(string)
		m.SetOutput("length", utf8.RuneCountInString(text))
		return nil
	}),
		module.WithLabel("Length"),
		module.WithMenuPath(module.ParseMenuPath("Text > Length")),
		module.WithInputs(module.InputOf[string]("text")),
		module.WithOutputs(module.OutputOf[int]("length")),
	)
}

// Normalize strips diacritics: "Crème Brûlée" becomes "Creme Brulee".
func Normalize() *module.Info {
	return module.MustInfo("text.normalize", module.FuncFactory(func(_ context.Context, m module.Module) error {
		text, _ := m.Input("text").(string)
		out, err := stripMarks(text)
		if err != nil {
			return err
		}
		m.SetOutput("result", out)
		return nil
	}),
		module.WithLabel("Remove Diacritics"),
		module.WithMenuPath(module.ParseMenuPath("Text > Remove Diacritics")),
		module.WithInputs(module.InputOf[string]("text")),
		module.WithOutputs(module.OutputOf[string]("result")),
	)
}

func stripMarks(s string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return "", fmt.Errorf("normalize text: %w", err)
	}
	return out, nil
}
