package utils

type Config struct {
	Etherscan    Etherscan     `yaml:"etherscan"`
	Tronscan     Tronscan      `yaml:"tronscan"`
	Merge        Merge         `yaml:"merge"`
	Destinations []Destination `yaml:"destinations"`
	Network      Network       `yaml:"network"`
	Telemetry    Telemetry     `yaml:"telemetry"`

	PrometheusPort string `yaml:"prometheus_port"`
	LogLevel       string `yaml:"log_level"`
}

type Etherscan struct {
	Endpoints       []string `yaml:"endpoints"`
	APIKey          string   `yaml:"api_key"`
	ChainID         int64    `yaml:"chain_id"`
	Contract        string   `yaml:"contract"`
	StartDate       string   `yaml:"start_date"`
	DataDir         string   `yaml:"data_dir"`
	PageDelayMs     int      `yaml:"page_delay_ms"`
	MaxEmptyBatches int      `yaml:"max_empty_batches"`
	MaxRetries      int      `yaml:"max_retries"`
}

type Tronscan struct {
	Endpoints         []string `yaml:"endpoints"`
	APIKey            string   `yaml:"api_key"`
	Contract          string   `yaml:"contract"`
	StartDate         string   `yaml:"start_date"`
	DataDir           string   `yaml:"data_dir"`
	PageLimit         int      `yaml:"page_limit"`
	SubwindowDays     int      `yaml:"subwindow_days"`
	DupPagesBreak     int      `yaml:"dup_pages_break"`
	MaxPagesPerWindow int      `yaml:"max_pages_per_window"`
	PageDelayMs       int      `yaml:"page_delay_ms"`
	MaxRetries        int      `yaml:"max_retries"`
	EnrichCosts       bool     `yaml:"enrich_costs"`
	CostWorkers       int      `yaml:"cost_workers"`
}

type Merge struct {
	OutputFile        string `yaml:"output_file"`
	BatchSaveInterval int    `yaml:"batch_save_interval"`
}

type Destination struct {
	Name              string `yaml:"name"`
	Type              string `yaml:"type"`
	ProjectID         string `yaml:"project_id,omitempty"`
	DatasetID         string `yaml:"dataset_id,omitempty"`
	TableID           string `yaml:"table_id,omitempty"`
	BucketName        string `yaml:"bucket_name,omitempty"`
	BucketWorkerCount int    `yaml:"bucket_worker_count,omitempty"`
	ConnectionURL     string `yaml:"connection_url,omitempty"`
	TableName         string `yaml:"table_name,omitempty"`
	WorkerCount       int    `yaml:"worker_count"`
	RowInsertLimit    int    `yaml:"row_insert_limit,omitempty"`
}

type Network struct {
	ProxyURL       string `yaml:"proxy_url,omitempty"`
	CABundle       string `yaml:"ca_bundle,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Telemetry struct {
	Disabled bool   `yaml:"disabled"`
	WriteKey string `yaml:"write_key,omitempty"`
}
