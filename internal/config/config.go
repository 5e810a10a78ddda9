package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LogLevel string `yaml:"log_level"`
	// AwsConfig: AWS SDK uses a shared configuration object that contains
	// credentials, region, retry policies, etc. The S3 client is created
	// from this single config. GCS clients handle their own configuration
	// internally via environment variables, service account files, or the
	// metadata service and are created lazily by the repository factory.
	AwsConfig aws.Config

	// PartSize is the default multipart part size in bytes.
	PartSize int64 `yaml:"part_size"`
	// MultipartThreshold is the object size above which copies go multipart.
	MultipartThreshold int64 `yaml:"multipart_threshold"`
	// Concurrency bounds parallel part transfers and checksum workers.
	Concurrency int `yaml:"concurrency"`
	// ReaderChunkSize is the buffer size for streaming checksum reads.
	ReaderChunkSize int `yaml:"reader_chunk_size"`
	// PreferredAlgorithms orders algorithms when choosing which missing
	// checksum to compute for an undecidable comparison.
	PreferredAlgorithms []string `yaml:"preferred_algorithms"`
}

// LoadConfig loads configuration from config.yaml, environment variables, or CLI flags
// Priority: CLI flags > Environment variables > config.yaml > defaults
func LoadConfig(configPath string, rootCmd *cobra.Command) (*Config, error) {
	if err := setupViper(configPath, rootCmd); err != nil {
		return nil, err
	}

	awsConfig, err := loadAWSConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		LogLevel:            viper.GetString("log_level"),
		AwsConfig:           awsConfig,
		PartSize:            viper.GetInt64("part_size"),
		MultipartThreshold:  viper.GetInt64("multipart_threshold"),
		Concurrency:         viper.GetInt("concurrency"),
		ReaderChunkSize:     viper.GetInt("reader_chunk_size"),
		PreferredAlgorithms: viper.GetStringSlice("preferred_algorithms"),
	}, nil
}

// setupViper configures Viper with defaults, paths, and bindings
func setupViper(configPath string, rootCmd *cobra.Command) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	setDefaults()
	viper.AutomaticEnv()

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("part_size", 8*1024*1024)
	viper.SetDefault("multipart_threshold", 8*1024*1024)
	viper.SetDefault("concurrency", 10)
	viper.SetDefault("reader_chunk_size", 1024*1024)
	viper.SetDefault("preferred_algorithms", []string{"md5", "sha256", "sha1", "crc64nvme", "crc32c", "crc32"})
}

// loadAWSConfig loads AWS SDK configuration
func loadAWSConfig() (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %v", err)
	}
	return cfg, nil
}
