// Package question provides interview question banks and question sources.
package question

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTopic is used when a requested topic has no bank entry.
const DefaultTopic = "Behavioral"

// Bank is an immutable set of per-topic interview prompts, built once at
// startup and injected wherever questions are needed.
type Bank struct {
	prompts map[string][]string
}

// bankFile is the on-disk YAML shape for custom banks.
type bankFile struct {
	Topics []bankTopic `yaml:"topics"`
}

type bankTopic struct {
	Name    string   `yaml:"name"`
	Prompts []string `yaml:"prompts"`
}

// Defaults returns the built-in banks shipped with the product.
func Defaults() *Bank {
	return &Bank{prompts: map[string][]string{
		"Frontend (React)": {
			"What are React Hooks and why were they introduced?",
			"Explain the Virtual DOM and how it improves performance.",
			"What is the difference between state and props?",
			"How does the useEffect dependency array work?",
			"Explain the concept of Higher-Order Components (HOCs).",
		},
		"Backend (Node)": {
			"What is the Event Loop in Node.js?",
			"Explain the difference between process.nextTick() and setImmediate().",
			"How do you handle errors in async/await functions?",
			"What are Streams in Node.js and why are they useful?",
			"Explain the role of middleware in Express.js.",
		},
		"System Design": {
			"Design a URL shortening service like Bit.ly.",
			"How would you design a scalable notification system?",
			"Explain the difference between vertical and horizontal scaling.",
			"Design a chat application like WhatsApp.",
			"What is consistent hashing and where is it used?",
		},
		"Behavioral": {
			"Tell me about a time you faced a technical challenge and how you solved it.",
			"How do you handle conflict in a team setting?",
			"Describe a situation where you had to meet a tight deadline.",
			"Tell me about a time you failed and what you learned from it.",
			"Where do you see yourself in 5 years?",
		},
		"DSA & Algos": {
			"Explain the difference between a stack and a queue.",
			"How does a hash table work and what is collision resolution?",
			"What is the time complexity of QuickSort?",
			"Explain Breadth-First Search (BFS) vs Depth-First Search (DFS).",
			"How would you detect a cycle in a linked list?",
		},
	}}
}

// LoadFile merges a YAML bank file over the built-in defaults. Topics in the
// file replace same-named default topics wholesale.
func LoadFile(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank %q: %w", path, err)
	}

	var file bankFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse question bank %q: %w", path, err)
	}

	bank := Defaults()
	for _, topic := range file.Topics {
		name := strings.TrimSpace(topic.Name)
		if name == "" {
			return nil, fmt.Errorf("question bank %q: topic with empty name", path)
		}
		prompts := make([]string, 0, len(topic.Prompts))
		for _, prompt := range topic.Prompts {
			if trimmed := strings.TrimSpace(prompt); trimmed != "" {
				prompts = append(prompts, trimmed)
			}
		}
		if len(prompts) == 0 {
			return nil, fmt.Errorf("question bank %q: topic %q has no prompts", path, name)
		}
		bank.prompts[name] = prompts
	}

	return bank, nil
}

// Topics returns bank topic names in stable sorted order.
func (b *Bank) Topics() []string {
	topics := make([]string, 0, len(b.prompts))
	for topic := range b.prompts {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Has reports whether a topic has its own bank entry.
func (b *Bank) Has(topic string) bool {
	_, ok := b.prompts[topic]
	return ok
}

// Prompts returns the prompt list for a topic, falling back to the default
// topic for unknown names so a session always has questions to draw from.
func (b *Bank) Prompts(topic string) ([]string, error) {
	if prompts, ok := b.prompts[topic]; ok {
		return append([]string(nil), prompts...), nil
	}
	if prompts, ok := b.prompts[DefaultTopic]; ok {
		return append([]string(nil), prompts...), nil
	}
	return nil, errors.New("question bank has no usable topics")
}
