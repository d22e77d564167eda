package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/matjam/hwcsession/internal/hal"
	"resty.dev/v3"
)

func newClient() *resty.Client {
	path := SocketPath()

	client := resty.NewWithClient(&http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", path)
			},
		},
	})

	client.SetBaseURL("http://hwcsession")
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	client.SetHeader("User-Agent", "hwcsession")
	return client
}

func send(method, path string, body, result any) error {
	client := newClient()
	defer client.Close()

	req := client.R().SetResult(result)
	if body != nil {
		req.SetBody(body)
	}

	response, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if response.StatusCode() != http.StatusOK {
		var failure Response
		if json.Unmarshal(response.Bytes(), &failure) == nil && failure.Message != "" {
			return fmt.Errorf("%s: %s", response.Status(), failure.Message)
		}
		return fmt.Errorf("error sending command: %s", response.Status())
	}
	return nil
}

func SendStatus() (*StatusResponse, error) {
	var result StatusResponse
	if err := send(http.MethodGet, "/status", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func SendDisplays() ([]DisplayInfo, error) {
	var result []DisplayInfo
	if err := send(http.MethodGet, "/displays", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func SendStop() error {
	return send(http.MethodPost, "/stop", nil, &Response{})
}

func SendPower(display hal.DisplayID, mode string) error {
	return send(http.MethodPost, "/power", PowerRequest{Display: display, Mode: mode}, &Response{})
}

func SendVsync(display hal.DisplayID, enabled bool) error {
	return send(http.MethodPost, "/vsync", VsyncRequest{Display: display, Enabled: enabled}, &Response{})
}

func SendHotplug(display hal.DisplayID, connected bool) error {
	return send(http.MethodPost, "/hotplug", HotplugRequest{Display: display, Connected: connected}, &Response{})
}
