package sensevoice

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"

	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/platform/errors"
	"moechat-server-go/internal/utils"
)

// SpeakerFilter 调用识别服务的声纹比对接口。
// 与Transcribe共用同一个服务进程，路径固定为 /check_speaker。
type SpeakerFilter struct {
	endpoint string
	client   *http.Client
	logger   *utils.Logger
}

type speakerRequest struct {
	Audio string `json:"audio"`
}

type speakerResponse struct {
	Match bool `json:"match"`
}

func NewSpeakerFilter(cfg *config.ASRConfig, logger *utils.Logger) (*SpeakerFilter, error) {
	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, errors.Wrap(errors.KindConfig, "asr:speaker-filter", "识别服务地址无效", err)
	}
	base.Path = "/check_speaker"
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	return &SpeakerFilter{
		endpoint: base.String(),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// CheckSpeaker 返回语音段是否属于注册说话人
func (f *SpeakerFilter) CheckSpeaker(ctx context.Context, wav []byte) (bool, error) {
	body, err := sonic.Marshal(speakerRequest{
		Audio: base64.URLEncoding.EncodeToString(wav),
	})
	if err != nil {
		return false, errors.Wrap(errors.KindASR, "asr:check-speaker", "请求序列化失败", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", f.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return false, errors.Wrap(errors.KindASR, "asr:check-speaker", "创建请求失败", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return false, errors.Wrap(errors.KindASR, "asr:check-speaker", "声纹服务不可达", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return false, errors.New(errors.KindASR, "asr:check-speaker",
			"声纹服务错误 "+resp.Status+": "+utils.SanitizeForLog(string(raw)))
	}

	var res speakerResponse
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&res); err != nil {
		return false, errors.Wrap(errors.KindASR, "asr:check-speaker", "响应解析失败", err)
	}
	return res.Match, nil
}
