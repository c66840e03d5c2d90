package halodb

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// LoadOptions 从配置文件中加载 Options, 未出现的配置项使用默认值
// 支持 viper 能识别的全部格式(yaml/toml/json/ini 等)
func LoadOptions(configFile string) (Options, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return Options{}, fmt.Errorf("failed to read config file: %w", err)
	}

	opts := DefaultOptions
	if v.IsSet("dir_path") {
		opts.DirPath = v.GetString("dir_path")
	}
	if v.IsSet("max_file_size") {
		opts.MaxFileSize = v.GetInt64("max_file_size")
	}
	if v.IsSet("sync_writes") {
		opts.SyncWrites = v.GetBool("sync_writes")
	}
	if v.IsSet("bytes_per_sync") {
		opts.BytesPerSync = v.GetUint("bytes_per_sync")
	}
	if v.IsSet("index_type") {
		switch v.GetString("index_type") {
		case "btree":
			opts.IndexType = BTree
		case "art":
			opts.IndexType = ART
		case "bptree":
			opts.IndexType = BPlusTree
		default:
			return Options{}, fmt.Errorf("unknown index type: %s", v.GetString("index_type"))
		}
	}
	if v.IsSet("merge_job_interval_in_seconds") {
		opts.MergeJobInterval = time.Duration(v.GetInt("merge_job_interval_in_seconds")) * time.Second
	}
	if v.IsSet("merge_threshold_per_file") {
		opts.MergeThresholdPerFile = v.GetFloat64("merge_threshold_per_file")
	}
	if v.IsSet("merge_threshold_file_number") {
		opts.MergeThresholdFileNumber = v.GetInt("merge_threshold_file_number")
	}
	if v.IsSet("merge_disabled") {
		opts.MergeDisabled = v.GetBool("merge_disabled")
	}

	if err := checkOptions(opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}
