package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"catalog_etl/config"
)

func TestPublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.S3Config
		want string
	}{
		{
			name: "aws",
			cfg:  config.S3Config{Bucket: "catalog", Region: "eu-west-1"},
			want: "https://catalog.s3.eu-west-1.amazonaws.com/products.json",
		},
		{
			name: "spaces",
			cfg:  config.S3Config{Bucket: "catalog", Endpoint: "https://nyc3.digitaloceanspaces.com"},
			want: "https://catalog.nyc3.digitaloceanspaces.com/products.json",
		},
		{
			name: "path style",
			cfg:  config.S3Config{Bucket: "catalog", Endpoint: "http://localhost:9000/"},
			want: "http://localhost:9000/catalog/products.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicURL(tt.cfg, "/products.json"))
		})
	}
}
