package ai

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"path"
	"strings"
)

const (
	presignPath  = "/api/file_object/pre_sign_list_by_module"
	registerPath = "/api/files/batch_create_llm_file"
	statusPath   = "/api/files/batch_get_file"

	maxDownloadBytes = 32 << 20
)

// IndexState is the backend's indexing state for an uploaded file.
type IndexState int

const (
	IndexPending IndexState = 0
	IndexError   IndexState = 2
	IndexReady   IndexState = 3
)

func (s IndexState) String() string {
	switch s {
	case IndexReady:
		return "ready"
	case IndexError:
		return "error"
	default:
		return "pending"
	}
}

// FileStatus is one poll result of the indexing status call.
type FileStatus struct {
	IndexState   IndexState `json:"index_state"`
	FileTokens   uint64     `json:"file_tokens"`
	FileChunks   uint64     `json:"file_chunks"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// UploadTarget is a pre-signed PUT destination and the object it creates.
type UploadTarget struct {
	UploadURL string
	ObjectURL string
}

// FileExt returns the extension of name without the dot.
func FileExt(name string) string {
	return strings.TrimPrefix(path.Ext(name), ".")
}

// Download fetches the source bytes of an image.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, remoteErr("download", err)
	}
	resp, err := c.FileClient.Do(req)
	if err != nil {
		return nil, remoteErr("download", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, remoteErr("download", err)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, remoteErr("download", err)
	}
	return b, nil
}

type presignReq struct {
	FilenameList []string `json:"filename_list"`
	Location     string   `json:"location"`
	Module       string   `json:"module"`
	ObjID        string   `json:"obj_id"`
}

type presignResp struct {
	Data struct {
		PreSignURLList []string `json:"pre_sign_url_list"`
		ObjectURLList  []string `json:"object_url_list"`
	} `json:"data"`
}

// PresignUpload asks the backend for an upload target for filename.
func (c *Client) PresignUpload(ctx context.Context, filename string) (UploadTarget, error) {
	objID, err := randomObjectID(22)
	if err != nil {
		return UploadTarget{}, err
	}

	var out presignResp
	if err := c.postJSON(ctx, c.APIBase+presignPath, presignReq{
		FilenameList: []string{filename},
		Location:     "files",
		Module:       "chat_bot",
		ObjID:        objID,
	}, &out); err != nil {
		return UploadTarget{}, remoteErr("presign", err)
	}
	if len(out.Data.PreSignURLList) == 0 || len(out.Data.ObjectURLList) == 0 {
		return UploadTarget{}, remoteErr("presign", errors.New("empty url list"))
	}
	return UploadTarget{
		UploadURL: out.Data.PreSignURLList[0],
		ObjectURL: out.Data.ObjectURLList[0],
	}, nil
}

// PutObject transfers data to a pre-signed upload URL.
func (c *Client) PutObject(ctx context.Context, uploadURL string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return remoteErr("put object", err)
	}
	resp, err := c.FileClient.Do(req)
	if err != nil {
		return remoteErr("put object", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return remoteErr("put object", err)
	}
	return nil
}

type registerItem struct {
	URL       string `json:"url"`
	Parse     bool   `json:"parse"`
	FileName  string `json:"file_name"`
	FileSize  uint64 `json:"file_size"`
	FileType  string `json:"file_type"`
	ObjectURL string `json:"object_url"`
	Embedding bool   `json:"embedding"`
}

type registerResp struct {
	Data struct {
		Items []struct {
			FileUID string `json:"file_uid"`
		} `json:"items"`
	} `json:"data"`
}

// RegisterFile turns an uploaded object into a backend file handle.
func (c *Client) RegisterFile(ctx context.Context, filename string, size uint64, objectURL string) (string, error) {
	body := map[string][]registerItem{
		"data": {{
			Parse:     true,
			FileName:  filename,
			FileSize:  size,
			FileType:  FileExt(filename),
			ObjectURL: objectURL,
		}},
	}
	var out registerResp
	if err := c.postJSON(ctx, c.APIBase+registerPath, body, &out); err != nil {
		return "", remoteErr("register file", err)
	}
	if len(out.Data.Items) == 0 || out.Data.Items[0].FileUID == "" {
		return "", remoteErr("register file", errors.New("no file uid returned"))
	}
	return out.Data.Items[0].FileUID, nil
}

type statusResp struct {
	Data struct {
		Items []FileStatus `json:"items"`
	} `json:"data"`
}

// FileStatus polls the indexing state of a registered file once.
func (c *Client) FileStatus(ctx context.Context, fileUID string) (FileStatus, error) {
	var out statusResp
	if err := c.postJSON(ctx, c.APIBase+statusPath, map[string][]string{"file_uids": {fileUID}}, &out); err != nil {
		return FileStatus{}, remoteErr("file status", err)
	}
	if len(out.Data.Items) == 0 {
		return FileStatus{}, remoteErr("file status", fmt.Errorf("file %s not found", fileUID))
	}
	return out.Data.Items[0], nil
}

const objectIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomObjectID(n int) (string, error) {
	out := make([]byte, n)
	for i := range out {
		k, err := rand.Int(rand.Reader, big.NewInt(int64(len(objectIDAlphabet))))
		if err != nil {
			return "", err
		}
		out[i] = objectIDAlphabet[k.Int64()]
	}
	return string(out), nil
}
