package app

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/store/memstore"
)

// Seed — контакты и шаблоны для запуска в памяти.
//
//	contacts:
//	  - {id: c1, email: ann@example.com, first_name: Ann}
//	templates:
//	  - {ref: welcome, channel: email, subject: "Hi {{ .Contact.FirstName }}", body: "..."}
type Seed struct {
	Contacts  []domain.Contact  `yaml:"contacts"`
	Templates []domain.Template `yaml:"templates"`
}

// LoadSeed читает файл с контактами и шаблонами.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed разбирает YAML (или JSON) с контактами и шаблонами.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	for i, c := range seed.Contacts {
		if c.ID == "" {
			return nil, fmt.Errorf("parse seed: contact #%d has no id", i+1)
		}
	}
	for i, t := range seed.Templates {
		if t.Ref == "" {
			return nil, fmt.Errorf("parse seed: template #%d has no ref", i+1)
		}
	}
	return &seed, nil
}

// Apply загружает данные в хранилище.
func (s *Seed) Apply(st *memstore.Store) {
	for _, c := range s.Contacts {
		st.PutContact(c)
	}
	for _, t := range s.Templates {
		st.PutTemplate(t)
	}
}
