package log

// LoggerConfig configures the process-wide logger (spec ambient stack:
// logging). It is decoded from the "log" section of the dispatchd
// configuration file via viper/mapstructure.
type LoggerConfig struct {
	Level   string           `mapstructure:"level"`
	Pattern string           `mapstructure:"pattern"`
	Time    string           `mapstructure:"time"`
	File    *FileAppenderOpt `mapstructure:"file,omitempty"`
}

// DefaultLoggerConfig returns the logging defaults applied when the
// configuration file omits the "log" section.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:   "info",
		Pattern: "%time [%level] [%caller] %field- %msg\n",
		Time:    "2006-01-02 15:04:05.000",
	}
}
