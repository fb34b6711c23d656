package discovery

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"
)

const (
	ssdpAddr = "239.255.255.250:1900"

	// SearchTarget is what HEOS players answer an M-SEARCH for.
	SearchTarget = "urn:schemas-denon-com:device:ACT-Denon:1"
)

type Response struct {
	Location string
	USN      string
	Headers  map[string]string
	FromIP   string
}

// Search performs SSDP M-SEARCH with multi-pass behavior. Responses are
// deduplicated by USN.
func Search(ctx context.Context, target string, passes int, passInterval, timeout time.Duration) ([]Response, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return nil, err
	}

	if passes < 1 {
		passes = 1
	}
	responses := make(map[string]Response)
	var order []string

	for pass := 0; pass < passes; pass++ {
		if err := sendSearch(conn, addr, target); err != nil {
			return nil, err
		}
		if pass < passes-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(passInterval):
			}
		}
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	buf := make([]byte, 2048)
	for {
		n, raddr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			return collect(responses, order), err
		}

		resp := parseResponse(string(buf[:n]))
		if resp.Location == "" || resp.USN == "" {
			continue
		}
		resp.FromIP = raddr.String()

		if _, exists := responses[resp.USN]; !exists {
			responses[resp.USN] = resp
			order = append(order, resp.USN)
		}
	}

	return collect(responses, order), nil
}

func searchMessage(target string) string {
	return strings.Join([]string{
		"M-SEARCH * HTTP/1.1",
		"HOST: " + ssdpAddr,
		"MAN: \"ssdp:discover\"",
		"MX: 2",
		"ST: " + target,
		"",
		"",
	}, "\r\n")
}

func sendSearch(conn net.PacketConn, addr *net.UDPAddr, target string) error {
	_, err := conn.WriteTo([]byte(searchMessage(target)), addr)
	return err
}

func parseResponse(raw string) Response {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	headers := make(map[string]string)

	// status line
	scanner.Scan()

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToUpper(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	return Response{
		Location: headers["LOCATION"],
		USN:      headers["USN"],
		Headers:  headers,
	}
}

func collect(responses map[string]Response, order []string) []Response {
	result := make([]Response, 0, len(order))
	for _, usn := range order {
		result = append(result, responses[usn])
	}
	return result
}
