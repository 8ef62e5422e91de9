package config

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/G1deonChan/mpdstreaming/internal/pipeline"
)

type Config interface {
	Init(cmd *cobra.Command) error
	Set()
}

type Server struct {
	PProf bool

	Cert  string
	Key   string
	Bind  string
	Proxy bool

	OutputDir string `mapstructure:"output-dir"`

	Streams     []Stream
	Supervision Supervision
	Producer    Producer
	Consumer    pipeline.ConsumerConfig
}

func (Server) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().Bool("pprof", false, "enable pprof endpoint available at /debug/pprof")
	if err := viper.BindPFlag("pprof", cmd.PersistentFlags().Lookup("pprof")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("bind", "127.0.0.1:8080", "address/port/socket to serve the server")
	if err := viper.BindPFlag("bind", cmd.PersistentFlags().Lookup("bind")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("cert", "", "path to the SSL cert used to secure the server")
	if err := viper.BindPFlag("cert", cmd.PersistentFlags().Lookup("cert")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("key", "", "path to the SSL key used to secure the server")
	if err := viper.BindPFlag("key", cmd.PersistentFlags().Lookup("key")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("proxy", false, "allow reverse proxies")
	if err := viper.BindPFlag("proxy", cmd.PersistentFlags().Lookup("proxy")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("output-dir", "", "directory for the generated HLS output")
	if err := viper.BindPFlag("output-dir", cmd.PersistentFlags().Lookup("output-dir")); err != nil {
		return err
	}

	return nil
}

func (s *Server) Set() {
	s.PProf = viper.GetBool("pprof")

	s.Cert = viper.GetString("cert")
	s.Key = viper.GetString("key")
	s.Bind = viper.GetString("bind")
	s.Proxy = viper.GetBool("proxy")

	s.OutputDir = viper.GetString("output-dir")
	if s.OutputDir == "" {
		var err error
		s.OutputDir, err = os.MkdirTemp(os.TempDir(), "mpdstreaming-hls")
		if err != nil {
			panic(err)
		}
	} else {
		if err := os.MkdirAll(s.OutputDir, 0755); err != nil {
			panic(err)
		}
	}

	if err := viper.UnmarshalKey("streams", &s.Streams); err != nil {
		panic(err)
	}
	for i := range s.Streams {
		s.Streams[i].setDefaults()
	}

	if err := viper.UnmarshalKey("supervision", &s.Supervision); err != nil {
		panic(err)
	}
	s.Supervision.setDefaults()

	if err := viper.UnmarshalKey("producer", &s.Producer); err != nil {
		panic(err)
	}
	s.Producer.setDefaults()

	s.Consumer = pipeline.DefaultConsumerConfig()
	if err := viper.UnmarshalKey("consumer", &s.Consumer); err != nil {
		panic(err)
	}
	if s.Consumer.Binary == "" {
		s.Consumer.Binary = "ffmpeg"
	}
}
