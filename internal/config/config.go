package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/simaogato/batchpay-backend/internal/domain"
)

// Ledger modes
const (
	LedgerModeEVM       = "evm"
	LedgerModeSimulated = "simulated"
)

// defaultNetworkYAML is the Celo Sepolia registry used when TOKENS_FILE is not set
const defaultNetworkYAML = `# batchpay network configuration
network:
  name: Celo Sepolia
  chain_id: 11142220
  settlement_contract: "0xCf4E003Cbd64a22F96CB2d08ab07F7C8Ccb8b462"
  explorer_url: https://celo-sepolia.blockscout.com

# The first asset is selected for a new batch. Omit address for the native currency.
assets:
  - symbol: CELO
    name: Celo
    decimals: 18
  - symbol: cUSD
    name: Celo Dollar
    address: "0x4822e58de6f5e485eF90df51C41CE01721331dC0"
    decimals: 18
  - symbol: cEUR
    name: Celo Euro
    address: "0x8E8f9d7A0C0B4B0e8B4B0e8B4B0e8B4B0e8B4B0e"
    decimals: 18
  - symbol: USDC
    name: USD Coin
    address: "0x2F25deB3848C207fc8E0c34035B3Ba7fC157602B"
    decimals: 6
`

// AssetFile declares one asset inside the tokens file
type AssetFile struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Address  string `yaml:"address,omitempty"`
	Decimals int    `yaml:"decimals"`
}

// NetworkFile models the tokens file
type NetworkFile struct {
	Network struct {
		Name               string `yaml:"name"`
		ChainID            uint64 `yaml:"chain_id"`
		SettlementContract string `yaml:"settlement_contract"`
		ExplorerURL        string `yaml:"explorer_url"`
	} `yaml:"network"`
	Assets []AssetFile `yaml:"assets"`
}

// AppConfig holds the service configuration
type AppConfig struct {
	LedgerMode       string
	RPCURL           string
	SignerPrivateKey string
	PollInterval     time.Duration
	Network          domain.NetworkConfig

	DBEnabled bool
	DBConnStr string

	APIToken       string
	GRPCPort       string
	MetricsPort    string
	SessionIdleTTL time.Duration

	// Simulated ledger only
	SimulatedSender  string
	SimulatedFunding string
}

// Load reads .env (if present), the environment and the tokens file
func Load(logger *zap.Logger) (AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on system env vars")
	}

	network, err := LoadNetwork(getEnv("TOKENS_FILE", ""))
	if err != nil {
		return AppConfig{}, err
	}

	// Environment overrides the file
	if v := getEnv("LEDGER_CHAIN_ID", ""); v != "" {
		chainID, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid LEDGER_CHAIN_ID %q: %w", v, err)
		}
		network.ChainID = chainID
	}
	network.SettlementContract = getEnv("SETTLEMENT_CONTRACT", network.SettlementContract)
	network.ExplorerURL = getEnv("EXPLORER_URL", network.ExplorerURL)

	if err := network.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("invalid network configuration: %w", err)
	}

	cfg := AppConfig{
		LedgerMode:       strings.ToLower(getEnv("LEDGER_MODE", LedgerModeSimulated)),
		RPCURL:           getEnv("LEDGER_RPC_URL", "https://forno.celo-sepolia.celo-testnet.org"),
		SignerPrivateKey: getEnv("SIGNER_PRIVATE_KEY", ""),
		PollInterval:     getEnvAsDuration("CONFIRMATION_POLL_INTERVAL", 2*time.Second),
		Network:          network,
		DBEnabled:        getEnvAsBool("DB_ENABLED", true),
		DBConnStr:        dbConnString(),
		APIToken:         getEnv("API_TOKEN", "dev-token"),
		GRPCPort:         getEnv("GRPC_PORT", ":8080"),
		MetricsPort:      getEnv("METRICS_PORT", ":9090"),
		SessionIdleTTL:   getEnvAsDuration("SESSION_IDLE_TTL", 30*time.Minute),
		SimulatedSender:  getEnv("SIMULATED_SENDER", "0x9999999999999999999999999999999999999999"),
		SimulatedFunding: getEnv("SIMULATED_FUNDING", "1000"),
	}

	switch cfg.LedgerMode {
	case LedgerModeSimulated:
	case LedgerModeEVM:
		if cfg.RPCURL == "" {
			return AppConfig{}, errors.New("LEDGER_RPC_URL is required in evm mode")
		}
	default:
		return AppConfig{}, fmt.Errorf("invalid LEDGER_MODE %q: must be %s or %s", cfg.LedgerMode, LedgerModeEVM, LedgerModeSimulated)
	}

	return cfg, nil
}

// LoadNetwork parses the tokens file at path, or the built-in registry when path is empty
func LoadNetwork(path string) (domain.NetworkConfig, error) {
	data := []byte(defaultNetworkYAML)
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return domain.NetworkConfig{}, fmt.Errorf("failed to read tokens file: %w", err)
		}
	}
	return ParseNetwork(data)
}

// ParseNetwork decodes a tokens file into an immutable network configuration
func ParseNetwork(data []byte) (domain.NetworkConfig, error) {
	var file NetworkFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return domain.NetworkConfig{}, fmt.Errorf("failed to parse tokens file: %w", err)
	}

	network := domain.NetworkConfig{
		Name:               file.Network.Name,
		ChainID:            file.Network.ChainID,
		SettlementContract: file.Network.SettlementContract,
		ExplorerURL:        file.Network.ExplorerURL,
		Assets:             make([]domain.TokenAsset, 0, len(file.Assets)),
	}

	for _, a := range file.Assets {
		asset := domain.TokenAsset{
			Symbol:   strings.TrimSpace(a.Symbol),
			Name:     a.Name,
			Decimals: a.Decimals,
		}
		if address := strings.TrimSpace(a.Address); address != "" {
			asset.LedgerReference = &address
		}
		network.Assets = append(network.Assets, asset)
	}

	return network, nil
}

// dbConnString prefers DB_CONN_STR and otherwise builds it from individual vars (Docker friendly)
func dbConnString() string {
	if connStr := getEnv("DB_CONN_STR", ""); connStr != "" {
		return connStr
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		getEnv("DB_NAME", "batchpay"),
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
