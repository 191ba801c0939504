package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port       string
	GinMode    string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	JWTSecret  string
	JWTExpires int // hours
}

func Load() (*Config, error) {
	c := &Config{
		Port:       os.Getenv("PORT"),
		GinMode:    os.Getenv("GIN_MODE"),
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  os.Getenv("DB_SSLMODE"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		JWTExpires: 24,
	}

	if c.Port == "" {
		c.Port = "8080"
	}
	if c.DBSSLMode == "" {
		c.DBSSLMode = "disable"
	}
	if c.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if v := os.Getenv("JWT_EXPIRES_HOURS"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h <= 0 {
			return nil, fmt.Errorf("invalid JWT_EXPIRES_HOURS %q", v)
		}
		c.JWTExpires = h
	}

	return c, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s dbname=%s port=%s sslmode=%s password=%s",
		c.DBHost, c.DBUser, c.DBName, c.DBPort, c.DBSSLMode, c.DBPassword)
}
