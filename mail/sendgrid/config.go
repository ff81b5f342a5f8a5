package sendgrid

// DefaultEndpoint is the SendGrid v2 mail send API in JSON format.
const DefaultEndpoint = "https://sendgrid.com/api/mail.send.json"

// Config contains SendGrid API credentials.
type Config struct {
	APIUser  string `envconfig:"SENDGRID_API_USER" required:"true"`
	APIKey   string `envconfig:"SENDGRID_API_KEY" required:"true"`
	Endpoint string `envconfig:"SENDGRID_ENDPOINT" default:"https://sendgrid.com/api/mail.send.json"`
}
