// Package httpclient provides the HTTP plumbing for the REST work transport.
//
// # Requests
//
// [WorkEndpoint] resolves a backend base URL to its work route and
// [NewWorkRequest] encodes a [workproto.Request] as the JSON POST body:
//
//	endpoint, err := httpclient.WorkEndpoint("http://localhost:6001")
//	if err != nil {
//		return err
//	}
//	req, err := httpclient.NewWorkRequest(ctx, endpoint, workproto.Request{PayloadSize: 4096})
//
// # HTTP Client
//
// [NewClient] creates a client with a per-request timeout and an idle pool
// large enough that every concurrent worker can keep its connection alive:
//
//	client := httpclient.NewClient(30 * time.Second)
//	resp, err := client.Do(req)
//	body, err := httpclient.ReadBody(resp)
package httpclient
