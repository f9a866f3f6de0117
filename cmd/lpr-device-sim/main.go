// lpr-device-sim 模拟一台 LPR 边缘设备，用于联调 lpr-bridge：
// 接受桥接端的连接，完成认证握手后周期性上报车牌与实时画面数据，
// 并对收到的签名命令做 HMAC 核验与回执。
package main

import (
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"lpr-bridge/command"
	"lpr-bridge/wire"
)

// lockedConn 串行化上报循环与命令回执的并发写入。
type lockedConn struct {
	net.Conn
	mu sync.Mutex
}

func main() {
	listenAddr := flag.String("listen", "0.0.0.0:9000", "监听地址")
	token := flag.String("token", "device-token-01", "期望的认证令牌")
	hmacSecret := flag.String("hmac_secret", "change-me-command", "命令签名密钥")
	certFile := flag.String("cert", "", "服务端证书（留空则使用明文 TCP）")
	keyFile := flag.String("key", "", "服务端私钥")
	cameraID := flag.String("camera", "2", "上报使用的摄像头 ID")
	platesEvery := flag.Duration("plates_interval", 3*time.Second, "plates_data 上报间隔")
	liveEvery := flag.Duration("live_interval", 500*time.Millisecond, "live 上报间隔")
	flag.Parse()

	var (
		ln  net.Listener
		err error
	)
	if *certFile != "" {
		cert, cerr := tls.LoadX509KeyPair(*certFile, *keyFile)
		if cerr != nil {
			log.Fatalf("加载证书失败: %v", cerr)
		}
		ln, err = tls.Listen("tcp", *listenAddr, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	} else {
		ln, err = net.Listen("tcp", *listenAddr)
	}
	if err != nil {
		log.Fatalf("监听失败: %v", err)
	}
	fmt.Printf("模拟设备启动，监听 %s（摄像头 %s）\n", *listenAddr, *cameraID)

	verifier, err := command.NewSigner(*hmacSecret)
	if err != nil {
		log.Fatalf("签名器初始化失败: %v", err)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("accept 失败: %v", err)
			os.Exit(1)
		}
		go serveBridge(&lockedConn{Conn: conn}, *token, *cameraID, verifier, *platesEvery, *liveEvery)
	}
}

// serveBridge 处理一条桥接端连接的完整生命周期。
func serveBridge(conn *lockedConn, token, cameraID string, verifier *command.Signer, platesEvery, liveEvery time.Duration) {
	defer conn.Close()
	log.Printf("桥接端已连接: %s", conn.RemoteAddr())

	authed := false
	stop := make(chan struct{})
	defer close(stop)

	var framer wire.Framer
	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, frame := range framer.Push(buf[:n]) {
				env, derr := wire.Decode(frame)
				if derr != nil {
					log.Printf("非法帧: %v", derr)
					continue
				}
				switch env.MessageType {
				case wire.TypeAuthentication:
					var body wire.AuthBody
					if err := wire.DecodeBody(env, &body); err != nil || body.Token != token {
						log.Printf("认证失败（token 不符），断开 %s", conn.RemoteAddr())
						return
					}
					if !authed {
						authed = true
						sendEnvelope(conn, uuid.NewString(), wire.TypeAcknowledge,
							wire.AckBody{ReplyTo: env.MessageID, Role: "device"})
						log.Printf("认证通过，开始上报数据")
						go emitLoop(conn, cameraID, platesEvery, liveEvery, stop)
					}
				case wire.TypeCommand:
					handleCommand(conn, env, verifier)
				default:
					log.Printf("忽略消息类型: %s", env.MessageType)
				}
			}
		}
		if err != nil {
			log.Printf("桥接端断开: %v", err)
			return
		}
	}
}

// handleCommand 核验命令签名并回执。
func handleCommand(conn *lockedConn, env wire.Envelope, verifier *command.Signer) {
	var body wire.CommandBody
	if err := wire.DecodeBody(env, &body); err != nil {
		log.Printf("命令消息体非法: %v", err)
		return
	}
	result := "ok"
	if !verifier.Verify(body.Data, body.HMAC) {
		result = "signature mismatch"
		log.Printf("命令签名核验失败: %s", env.MessageID)
	} else {
		log.Printf("收到命令: %s", string(body.Data))
	}
	sendEnvelope(conn, uuid.NewString(), wire.TypeCommandResponse, map[string]string{
		"replyTo": env.MessageID,
		"result":  result,
	})
}

// emitLoop 周期性上报 plates_data 与 live，直到连接结束。
func emitLoop(conn *lockedConn, cameraID string, platesEvery, liveEvery time.Duration, stop <-chan struct{}) {
	platesTicker := time.NewTicker(platesEvery)
	liveTicker := time.NewTicker(liveEvery)
	defer platesTicker.Stop()
	defer liveTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-platesTicker.C:
			sendEnvelope(conn, uuid.NewString(), wire.TypePlatesData, wire.PlatesBody{
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				CameraID:  cameraID,
				FullImage: "ZnVsbF9pbWFnZQ==",
				Cars: []wire.CarDetection{{
					Plate:        wire.PlateInfo{Plate: "ABC123", PlateImage: "cGxhdGVfaW1n"},
					OCRAccuracy:  0.98,
					VisionSpeed:  42.5,
					VehicleClass: json.RawMessage(`"Sedan"`),
					VehicleType:  json.RawMessage(`"Car"`),
					VehicleColor: json.RawMessage(`"Blue"`),
				}},
			})
		case <-liveTicker.C:
			sendEnvelope(conn, uuid.NewString(), wire.TypeLive, wire.LiveBody{
				LiveImage: "bGl2ZV9mcmFtZQ==",
				CameraID:  cameraID,
			})
		}
	}
}

// sendEnvelope 编码并写出一帧，失败只记日志（连接错误由读循环兜底处理）。
func sendEnvelope(conn *lockedConn, id string, typ wire.MessageType, body any) {
	env, err := wire.NewEnvelope(id, typ, body)
	if err != nil {
		log.Printf("组包失败: %v", err)
		return
	}
	frame, err := wire.Encode(env)
	if err != nil {
		log.Printf("编码失败: %v", err)
		return
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Write(frame); err != nil {
		log.Printf("写入失败: %v", err)
	}
}
