package domain

// Contact — получатель сообщений.
//
// Импорт и валидация контактов происходят вне движка,
// здесь только то, что нужно для отправки и рендеринга.
type Contact struct {
	ID         string            `json:"id" yaml:"id"`
	Email      string            `json:"email,omitempty" yaml:"email,omitempty"`
	Phone      string            `json:"phone,omitempty" yaml:"phone,omitempty"`
	FirstName  string            `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName   string            `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Destination возвращает адрес контакта для канала.
func (c *Contact) Destination(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelSMS:
		return c.Phone
	default:
		return ""
	}
}

// Template — шаблон сообщения (text/template).
type Template struct {
	Ref     string  `json:"ref" yaml:"ref"`
	Channel Channel `json:"channel" yaml:"channel"`
	Subject string  `json:"subject,omitempty" yaml:"subject,omitempty"`
	Body    string  `json:"body" yaml:"body"`
}

// Content — отрендеренное содержимое сообщения.
type Content struct {
	TemplateRef string `json:"template_ref,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Body        string `json:"body"`
}
