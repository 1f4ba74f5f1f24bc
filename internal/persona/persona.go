// Package persona loads the bot's prompt texts and fallback posts.
package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/robotmk/ebooks/internal/chance"
)

//go:embed default.yaml
var defaultYAML []byte

// Persona is the bot's voice configuration.
type Persona struct {
	Name              string   `yaml:"name"`
	Handle            string   `yaml:"handle"`
	Intro             string   `yaml:"intro"`
	PostInstructions  string   `yaml:"post_instructions"`
	ReplyInstructions string   `yaml:"reply_instructions"`
	FallbackPosts     []string `yaml:"fallback_posts"`
	TopicTerms        []string `yaml:"topic_terms"`
}

// Default returns the built-in persona.
func Default() Persona {
	p, err := parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("persona: embedded default is invalid: %v", err))
	}
	return p
}

// Load reads a persona file. Fields the file leaves empty keep the
// built-in values. An empty path returns Default.
func Load(path string) (Persona, error) {
	def := Default()
	if path == "" {
		return def, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("reading persona: %w", err)
	}
	p, err := parse(data)
	if err != nil {
		return Persona{}, fmt.Errorf("parsing persona %s: %w", path, err)
	}
	p.fill(def)
	return p, nil
}

func parse(data []byte) (Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, err
	}
	p.PostInstructions = strings.TrimSpace(p.PostInstructions)
	p.ReplyInstructions = strings.TrimSpace(p.ReplyInstructions)
	return p, p.validate()
}

func (p Persona) validate() error {
	for _, f := range p.FallbackPosts {
		if strings.TrimSpace(f) == "" {
			return errors.New("fallback_posts contains an empty entry")
		}
	}
	return nil
}

func (p *Persona) fill(def Persona) {
	if p.Name == "" {
		p.Name = def.Name
	}
	if p.Handle == "" {
		p.Handle = def.Handle
	}
	if p.Intro == "" {
		p.Intro = def.Intro
	}
	if p.PostInstructions == "" {
		p.PostInstructions = def.PostInstructions
	}
	if p.ReplyInstructions == "" {
		p.ReplyInstructions = def.ReplyInstructions
	}
	if len(p.FallbackPosts) == 0 {
		p.FallbackPosts = def.FallbackPosts
	}
	if p.TopicTerms == nil {
		p.TopicTerms = def.TopicTerms
	}
}

// Fallback picks one fallback post with src. A nil src always returns the
// first entry, which keeps debug runs repeatable.
func (p Persona) Fallback(src chance.Source) string {
	if len(p.FallbackPosts) == 0 {
		return ""
	}
	if src == nil {
		return p.FallbackPosts[0]
	}
	s, _ := chance.Pick(src, p.FallbackPosts)
	return s
}
