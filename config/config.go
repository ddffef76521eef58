package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config representa a configuração global do sistema
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Database DatabaseConfig `mapstructure:"database"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	IMAP     IMAPConfig     `mapstructure:"imap"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig representa a configuração do servidor de protocolo principal
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	Port          int    `mapstructure:"port"`
	Domain        string `mapstructure:"domain"`
	MaxFrameBytes int    `mapstructure:"max_frame_bytes"`
}

// StorageConfig representa os diretórios das caixas de correio
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
	LostDir string `mapstructure:"lost_dir"` // Mensagens para destinatários locais inexistentes
}

// RelayConfig representa o relay SMTP usado para domínios externos
type RelayConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Timeout   time.Duration `mapstructure:"timeout"`
	StartTLS  bool          `mapstructure:"starttls"`
	TLSVerify bool          `mapstructure:"tls_verify"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	Workers   int           `mapstructure:"workers"` // 0 = envio no laço principal
}

// DatabaseConfig representa a configuração do banco do diário de entregas
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // "none", "sqlite" ou "postgres"
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Path     string `mapstructure:"path"` // Para SQLite
}

// SMTPConfig representa a configuração do servidor SMTP de entrada
type SMTPConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Address         string `mapstructure:"address"`
	Port            int    `mapstructure:"port"`
	MaxMessageBytes int64  `mapstructure:"max_message_bytes"`
}

// IMAPConfig representa a configuração do gateway IMAP
type IMAPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

// AdminConfig representa a configuração do servidor HTTP de administração
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

// LoggingConfig representa a configuração de logs
type LoggingConfig struct {
	Output string `mapstructure:"output"` // stdout, stderr ou caminho de arquivo
	Format string `mapstructure:"format"` // console ou json
	Level  string `mapstructure:"level"`
}

// Addr retorna o endereço de escuta no formato host:porta
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Addr retorna o endereço do relay no formato host:porta
func (c RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

func (c IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

func (c AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 5322)
	v.SetDefault("server.domain", "glo-2000.ca")
	v.SetDefault("server.max_frame_bytes", 1<<20)

	v.SetDefault("storage.data_dir", "server_data")
	v.SetDefault("storage.lost_dir", "LOST")

	v.SetDefault("relay.host", "smtp.ulaval.ca")
	v.SetDefault("relay.port", 25)
	v.SetDefault("relay.timeout", 10*time.Second)
	v.SetDefault("relay.starttls", false)
	v.SetDefault("relay.tls_verify", true)
	v.SetDefault("relay.username", "")
	v.SetDefault("relay.password", "")
	v.SetDefault("relay.workers", 0)

	v.SetDefault("database.type", "none")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "glomail")
	v.SetDefault("database.path", "glomail.db")

	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.address", "127.0.0.1")
	v.SetDefault("smtp.port", 2525)
	v.SetDefault("smtp.max_message_bytes", 1<<20)

	v.SetDefault("imap.enabled", false)
	v.SetDefault("imap.address", "127.0.0.1")
	v.SetDefault("imap.port", 1143)

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.address", "127.0.0.1")
	v.SetDefault("admin.port", 9090)

	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.level", "info")
}

// LoadConfig carrega configurações do arquivo YAML, das variáveis GLOMAIL_* e dos padrões.
// Com caminho vazio, config.yaml no diretório atual é usado se existir.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GLOMAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("erro ao ler arquivo de configuração: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("erro ao processar configuração: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifica os valores obrigatórios da configuração
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Domain) == "" {
		return fmt.Errorf("configuração inválida: server.domain vazio")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("configuração inválida: server.port deve ser positivo")
	}
	if c.Server.MaxFrameBytes <= 0 {
		return fmt.Errorf("configuração inválida: server.max_frame_bytes deve ser positivo")
	}
	if c.Storage.DataDir == "" || c.Storage.LostDir == "" {
		return fmt.Errorf("configuração inválida: storage.data_dir e storage.lost_dir são obrigatórios")
	}
	if nestedDirs(c.Storage.DataDir, c.Storage.LostDir) {
		return fmt.Errorf("configuração inválida: storage.data_dir e storage.lost_dir não podem ser o mesmo diretório nem um conter o outro")
	}
	if c.Relay.Timeout <= 0 {
		return fmt.Errorf("configuração inválida: relay.timeout deve ser positivo")
	}
	if c.Relay.Workers < 0 {
		return fmt.Errorf("configuração inválida: relay.workers não pode ser negativo")
	}

	switch c.Database.Type {
	case "", "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("tipo de banco de dados não suportado: %s", c.Database.Type)
	}

	return nil
}

// nestedDirs indica se a e b são o mesmo diretório ou se um está dentro do outro
func nestedDirs(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return within(absA, absB) || within(absB, absA)
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
