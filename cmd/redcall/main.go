package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/api"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/config"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/logx"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/tts"
)

func main() {
	// 本地可跑优先：参数走 flag，敏感信息（TTS API key）走环境变量。
	// - SMALLEST_API_KEY：语音合成服务密钥；不设置则自动退化为纯字幕模式
	//   （--stub-tts 可在无密钥时强开本地合成音）
	cfgPath := flag.String("config", "", "yaml config path (optional)")
	addr := flag.String("addr", "", "http listen address, overrides config")
	stubTTS := flag.Bool("stub-tts", false, "use local tone synthesizer instead of the TTS API")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	} else if key := os.Getenv("SMALLEST_API_KEY"); key != "" {
		cfg.TTS.APIKey = key
	}

	if err := logx.Init(logx.Options{
		Level:         cfg.Logging.Level,
		File:          cfg.Logging.File,
		EnableConsole: cfg.Logging.EnableConsole,
	}); err != nil {
		log.Fatalf("init logging: %v", err)
	}

	var synth tts.Synthesizer
	if *stubTTS {
		synth = tts.NewStub(cfg.TTS.SampleRate)
	} else {
		synth = tts.NewHTTP(cfg.TTS)
	}
	if !synth.Enabled() {
		logx.Warnf("voice synthesis not configured, running caption-only")
	}

	server := api.NewServer(cfg, synth)

	listen := cfg.Addr()
	if *addr != "" {
		listen = *addr
	}
	logx.Infof("redcall server listening on %s", listen)
	if err := http.ListenAndServe(listen, server.Routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
